package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveHealth(t *testing.T, h *HealthChecker, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterHealthEndpoints(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil, "1.2.3")
	h.SetReady(false)

	rec, body := serveHealth(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, healthStatusOK, body["status"])
}

func TestHealthChecker_Readiness(t *testing.T) {
	sc := NewServerContext(context.Background(), nil, nil, nil)
	h := NewHealthChecker(sc, "1.2.3")

	rec, body := serveHealth(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, healthStatusOK, body["status"])

	h.AddCheck("valkey", func(context.Context) error { return errors.New("connection refused") })
	rec, body = serveHealth(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["valkey"])

	h.AddCheck("valkey", func(context.Context) error { return nil })
	rec, _ = serveHealth(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, sc.Shutdown())
	rec, body = serveHealth(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, healthStatusShuttingDown, body["checks"].(map[string]any)["shutdown"])
}

func TestHealthChecker_Detailed(t *testing.T) {
	h := NewHealthChecker(nil, "1.2.3")
	h.AddCheck("store", func(context.Context) error { return nil })

	rec, body := serveHealth(t, h, "/healthz/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, []any{"store"}, body["dependencies"])

	h.SetReady(false)
	rec, body = serveHealth(t, h, "/healthz/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, healthStatusNotReady, body["status"])
}
