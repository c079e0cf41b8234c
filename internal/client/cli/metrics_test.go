package cli

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediasync/internal/client/metrics"
)

func TestMetricsHandler_ExposesRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New("mediasync", reg)
	require.NoError(t, err)
	rec.ObserveOperation("sync", time.Millisecond, nil)

	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `mediasync_operations_total{operation="sync",outcome="ok"} 1`)
}
