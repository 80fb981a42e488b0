package opsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporalos/chatkit/internal/monitoring"
	"github.com/temporalos/chatkit/internal/transport"
)

func TestHealthReportsSocketStates(t *testing.T) {
	s := New(Options{
		Addr: ":0",
		Sockets: map[string]StatusSource{
			"chat":  func() transport.Status { return transport.StatusConnected },
			"group": func() transport.Status { return transport.StatusConnected },
		},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string            `json:"status"`
		Sockets map[string]string `json:"sockets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Sockets["chat"])
	assert.Equal(t, "connected", body.Sockets["group"])
}

func TestHealthDegradedWhenSocketDown(t *testing.T) {
	s := New(Options{
		Addr: ":0",
		Sockets: map[string]StatusSource{
			"chat": func() transport.Status { return transport.StatusDisconnected },
		},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestResponsesCarryRequestID(t *testing.T) {
	s := New(Options{Addr: ":0"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// A caller-supplied id is echoed back, not replaced.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "scrape-7")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "scrape-7", rec.Header().Get("X-Request-ID"))
}

func TestMetricsServedFromRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.New(reg)
	m.RecordConnect()

	s := New(Options{Addr: ":0", Registry: reg})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatkit_connects_total")
}
