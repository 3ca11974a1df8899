package jobs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{
			scenario: "document",
			given:    "{\n  \"value\": 42\n}\n",
			then:     `{"value": 42}`,
		},
		{
			scenario: "last line after progress",
			given:    "loading model\nscoring 3 variants\n{\"scores\": [0.1, 0.2]}\n\n",
			then:     `{"scores": [0.1, 0.2]}`,
		},
		{
			scenario: "array",
			given:    "[1,2,3]",
			then:     `[1,2,3]`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			got, err := parsePayload([]byte(tc.given), "stdout")
			require.NoError(t, err)
			require.JSONEq(t, tc.then, string(got))
		})
	}
}

func TestParsePayloadError(t *testing.T) {
	t.Parallel()

	_, err := parsePayload([]byte(" \n\t"), "stdout")
	require.ErrorContains(t, err, "empty result")

	_, err = parsePayload([]byte("done\nno json here\n"), "stdout")
	require.ErrorContains(t, err, "no JSON result found")
	require.ErrorContains(t, err, "text/plain")

	_, err = parsePayload([]byte("{\"value\": 42}\ntrailing"), "out.json")
	require.ErrorContains(t, err, "out.json")
}

func TestResolveResult(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"value": 42}`), 0o644))

	got, err := resolveResult(path, []byte("ignored\n"))
	require.NoError(t, err)
	require.JSONEq(t, `{"value": 42}`, string(got))

	_, err = resolveResult(filepath.Join(dir, "missing.json"), []byte(`{"value": 1}`))
	require.ErrorContains(t, err, "reading result artifact")

	got, err = resolveResult("", []byte("{\"value\": 1}\n"))
	require.NoError(t, err)
	require.JSONEq(t, `{"value": 1}`, string(got))
}
