package metric

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/asyncflow/health"
)

func TestServer_MetricsEndpoint(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handler_test_total",
		Help: "A counter",
	})
	require.NoError(t, registry.RegisterCounter("pipeline", "handler_test_total", counter))
	counter.Inc()

	server := NewServer(":0", "/metrics", registry, nil)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	assert.Contains(t, string(buf[:n]), "handler_test_total")
}

func TestServer_HealthzWithoutMonitor(t *testing.T) {
	server := NewServer("", "", NewMetricsRegistry(), nil)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_HealthzStatusCodes(t *testing.T) {
	monitor := health.NewMonitor()
	server := NewServer(":0", "/metrics", NewMetricsRegistry(), monitor)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	monitor.UpdateHealthy("source", "ok")

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	var agg health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, agg.IsHealthy())

	monitor.UpdateUnhealthy("sink", "connection refused")

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agg))
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, agg.IsUnhealthy())
}

func TestServer_Defaults(t *testing.T) {
	server := NewServer("", "", NewMetricsRegistry(), nil)
	assert.Equal(t, "http://:9090/metrics", server.Address())
}

func TestServer_StartValidation(t *testing.T) {
	server := NewServer(":0", "/metrics", nil, nil)
	err := server.Start()
	require.Error(t, err)
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer(":0", "/metrics", NewMetricsRegistry(), nil)
	assert.NoError(t, server.Stop())
	assert.NoError(t, server.Stop())
}
