package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CZERTAINLY/genojob/internal/observability"

	"github.com/stretchr/testify/require"
)

func TestInitMetrics(t *testing.T) {
	m, err := observability.InitMetrics()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, m.Shutdown(ctx))
	})

	counter, err := m.Provider.Meter("test-meter").Int64Counter("genojob_test_counter")
	require.NoError(t, err)
	counter.Add(t.Context(), 42)

	srv := httptest.NewServer(m.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Contains(t, string(body), "genojob_test_counter_total")
	require.Contains(t, string(body), "42")
	require.Contains(t, string(body), "go_goroutines")
}
