package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(&Config{Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"empty namespace", &Config{}, true},
		{"server without addr", &Config{Namespace: "x", HTTPServer: HTTPServerConfig{Enabled: true}}, true},
		{"server disabled", &Config{Namespace: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}

	cfg := &Config{Namespace: "x", HTTPServer: HTTPServerConfig{Enabled: true, Addr: ":0"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/metrics", cfg.HTTPServer.Path)
}

func TestClient_Counter(t *testing.T) {
	c := newTestClient(t)
	v, err := c.NewCounter("operations_total", "operations", []string{"entity", "status"})
	require.NoError(t, err)
	v.WithLabelValues("users", "ok").Add(2)

	got, ok := c.GetCounter("operations_total")
	require.True(t, ok)
	assert.Equal(t, 2.0, testutil.ToFloat64(got.WithLabelValues("users", "ok")))

	_, err = c.NewCounter("operations_total", "dup", nil)
	assert.ErrorIs(t, err, ErrMetricExists)

	_, ok = c.GetGauge("operations_total")
	assert.False(t, ok)
}

func TestClient_GaugeAndHistogram(t *testing.T) {
	c := newTestClient(t)
	g := c.MustNewGauge("pool_idle", "idle", []string{"connection"})
	g.WithLabelValues("pg").Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(g.WithLabelValues("pg")))

	h := c.MustNewHistogram("latency_seconds", "latency", []string{"op"}, nil)
	h.WithLabelValues("find").Observe(0.2)
	assert.Equal(t, 1, testutil.CollectAndCount(h))

	assert.Panics(t, func() { c.MustNewGauge("pool_idle", "dup", nil) })
}

func TestClient_Handler(t *testing.T) {
	c := newTestClient(t)
	c.MustNewCounter("requests_total", "requests", nil).WithLabelValues().Inc()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_requests_total 1"))
}

func TestClient_Close(t *testing.T) {
	c, err := New(&Config{Namespace: "test"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClientClosed)

	_, err = c.NewCounter("late", "late", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.ErrorIs(t, c.RegisterCollector(nil), ErrClientClosed)
}
