package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CZERTAINLY/genojob/internal/api"
	"github.com/CZERTAINLY/genojob/internal/jobs"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// echoScript prints --text as a JSON result, sleeps for --sleep or fails
// with --exit.
const echoScript = `
text=hello; nap=0; code=0
while [ $# -gt 0 ]; do
	case "$1" in
		--text) text=$2 ;;
		--sleep) nap=$2 ;;
		--exit) code=$2 ;;
	esac
	shift 2
done
echo "working on $text"
if [ "$nap" != 0 ]; then sleep "$nap"; fi
if [ "$code" != 0 ]; then exit "$code"; fi
printf '{"text": "%s"}\n' "$text"
`

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	reg := jobs.NewRegistry()
	require.NoError(t, reg.Register(jobs.Kind{
		Name:        "echo",
		Description: "echoes text",
		Params: []jobs.Param{
			{Name: "text", Flag: "--text", Type: jobs.String, Required: true},
			{Name: "sleep", Flag: "--sleep", Type: jobs.String},
			{Name: "exit", Flag: "--exit", Type: jobs.Int},
		},
	}, jobs.Target{Path: sh, Args: []string{"-c", echoScript, "echo"}}))

	m, err := jobs.New(t.Context(), reg, jobs.Config{GracePeriod: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, m.Close(ctx))
	})

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	return &server{t: t, handler: api.NewRouter(m, reg, metrics)}
}

func (s *server) do(method, path string, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var ret map[string]any
	if rr.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(s.t, json.Unmarshal(rr.Body.Bytes(), &ret), rr.Body.String())
	}
	return rr.Code, ret
}

func (s *server) submit(args map[string]any) string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/jobs", map[string]any{"kind": "echo", "args": args})
	require.Equal(s.t, http.StatusAccepted, code, body)
	id, ok := body["job_id"].(string)
	require.True(s.t, ok)
	return id
}

func (s *server) waitStatus(id, want string) map[string]any {
	s.t.Helper()
	var body map[string]any
	require.Eventually(s.t, func() bool {
		var code int
		code, body = s.do(http.MethodGet, "/api/jobs/"+id, nil)
		return code == http.StatusOK && body["status"] == want
	}, 10*time.Second, 10*time.Millisecond)
	return body
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	id := s.submit(map[string]any{"text": "genome"})
	info := s.waitStatus(id, "completed")
	require.Equal(t, "echo", info["kind"])
	require.Equal(t, "echo", info["job_name"])
	require.NotEmpty(t, info["started_at"])
	require.NotEmpty(t, info["finished_at"])

	code, body := s.do(http.MethodGet, "/api/jobs/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]any{"text": "genome"}, body["result"])

	code, body = s.do(http.MethodGet, "/api/jobs/"+id+"/log", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{"working on genome", `{"text": "genome"}`}, body["lines"])
	require.Equal(t, float64(2), body["total"])

	code, body = s.do(http.MethodGet, "/api/jobs/"+id+"/log?tail=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{`{"text": "genome"}`}, body["lines"])

	code, body = s.do(http.MethodGet, "/api/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["total"])

	code, body = s.do(http.MethodGet, "/api/jobs?status=running", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{}, body["jobs"])

	// cancelling a finished job is a no-op
	code, body = s.do(http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "completed", body["status"])
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	id := s.submit(map[string]any{"text": "slow", "sleep": "30"})
	s.waitStatus(id, "running")

	code, body := s.do(http.MethodGet, "/api/jobs/"+id+"/result", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "JOB_NOT_FINISHED", body["code"])

	code, body = s.do(http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "cancelled", body["status"])

	code, body = s.do(http.MethodGet, "/api/jobs/"+id+"/result", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "JOB_CANCELLED", body["code"])
}

func TestFailed(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	id := s.submit(map[string]any{"text": "x", "exit": 4})
	info := s.waitStatus(id, "failed")
	jobErr, ok := info["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "runtime_error", jobErr["kind"])
	require.Equal(t, float64(4), jobErr["exit_code"])

	code, body := s.do(http.MethodGet, "/api/jobs/"+id+"/result", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "JOB_FAILED", body["code"])
	require.Equal(t, jobErr, body["error"])
}

func TestErrors(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	var testCases = []struct {
		scenario string
		method   string
		path     string
		body     any
		status   int
		code     string
	}{
		{"unknown kind", http.MethodPost, "/api/jobs", map[string]any{"kind": "alphafold"}, http.StatusBadRequest, "SUBMISSION_ERROR"},
		{"unknown argument", http.MethodPost, "/api/jobs", map[string]any{"kind": "echo", "args": map[string]any{"text": "a", "colour": "red"}}, http.StatusBadRequest, "SUBMISSION_ERROR"},
		{"missing required", http.MethodPost, "/api/jobs", map[string]any{"kind": "echo"}, http.StatusBadRequest, "SUBMISSION_ERROR"},
		{"no kind", http.MethodPost, "/api/jobs", map[string]any{}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad body", http.MethodPost, "/api/jobs", "not an object", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown job", http.MethodGet, "/api/jobs/nope", nil, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"unknown job result", http.MethodGet, "/api/jobs/nope/result", nil, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"unknown job log", http.MethodGet, "/api/jobs/nope/log", nil, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"unknown job cancel", http.MethodPost, "/api/jobs/nope/cancel", nil, http.StatusNotFound, "JOB_NOT_FOUND"},
		{"bad status filter", http.MethodGet, "/api/jobs?status=done", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad tail", http.MethodGet, "/api/jobs/nope/log?tail=ten", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			code, body := s.do(tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, code, body)
			require.Equal(t, tc.code, body["code"])
			require.NotEmpty(t, body["message"])
		})
	}

	t.Run("negative tail", func(t *testing.T) {
		id := s.submit(map[string]any{"text": "tail"})
		code, body := s.do(http.MethodGet, "/api/jobs/"+id+"/log?tail=-1", nil)
		require.Equal(t, http.StatusBadRequest, code)
		require.Equal(t, "INVALID_INPUT", body["code"])
		s.waitStatus(id, "completed")
	})
}

func TestKindsHealthMetrics(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	code, body := s.do(http.MethodGet, "/api/kinds", nil)
	require.Equal(t, http.StatusOK, code)
	kinds, ok := body["kinds"].([]any)
	require.True(t, ok)
	require.Len(t, kinds, 1)
	kind := kinds[0].(map[string]any)
	require.Equal(t, "echo", kind["name"])
	params := kind["params"].([]any)
	require.Equal(t, "text", params[0].(map[string]any)["name"])
	require.Equal(t, "string", params[0].(map[string]any)["type"])

	code, body = s.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	code, _ = s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, code)
}
