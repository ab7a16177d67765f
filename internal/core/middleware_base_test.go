package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"floodguard/internal/types"
)

func TestRecoverer_Panic(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("index out of range"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-\"7\""))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), detail.Code)
	assert.Equal(t, `req-"7"`, detail.RequestID)
}

func TestRecoverer_NoPanic(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRequestLogger_ScopedLoggerAndRedaction(t *testing.T) {
	logger, buf := bufferLogger()
	var fromHandler bool
	h := RequestLogger(logger, []string{"x-admin-key"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		types.LoggerFromContext(r.Context()).Info("inside handler")
		fromHandler = true
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/locations/river-1/policy", nil)
	req.Header.Set(AdminKeyHeader, "super-secret")
	req = req.WithContext(types.WithRequestID(req.Context(), "req-9"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, fromHandler)
	lines := decodeLogLines(t, buf.Bytes())
	require.Len(t, lines, 2)
	assert.Equal(t, "inside handler", lines[0]["msg"])
	assert.Equal(t, "req-9", lines[0]["request_id"])

	done := lines[1]
	assert.Equal(t, "WARN", done["level"])
	assert.EqualValues(t, 404, done["status"])
	assert.Equal(t, "req-9", done["request_id"])
	headers := done["headers"].(map[string]any)
	assert.Equal(t, "[REDACTED]", headers[AdminKeyHeader])
	assert.NotContains(t, buf.String(), "super-secret")
}

func TestRequestLogger_LevelFor5xx(t *testing.T) {
	logger, buf := bufferLogger()
	h := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	lines := decodeLogLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	srv := newTestServer(t)
	collector := &mockMetricsCollector{}
	srv.Metrics = collector

	r := chi.NewRouter()
	r.Use(srv.MetricsMiddleware)
	r.Get("/v1/locations/{locationID}/policy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/locations/river-1/policy", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, collector.calls, 2)
	assert.Equal(t, "GET", collector.calls[0].method)
	assert.Equal(t, "/v1/locations/{locationID}/policy", collector.calls[0].endpoint)
	assert.Equal(t, "418", collector.calls[0].status)
	assert.Equal(t, "404", collector.calls[1].status)
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	srv := newTestServer(t)
	called := false
	h := srv.MetricsMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestResponseCapture(t *testing.T) {
	rec := httptest.NewRecorder()
	rc := &responseCapture{ResponseWriter: rec, statusCode: http.StatusOK}

	rc.WriteHeader(http.StatusConflict)
	rc.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusConflict, rc.statusCode)
	assert.Same(t, rec, rc.Unwrap())
}

func TestWriteJSON_Escapes(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, writeJSON(rec, APIErrorResponse{Error: ErrorDetail{
		Code:    "internal_unexpected_error",
		Message: "line\nbreak \"quoted\" \\ tab\t",
	}}))

	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "line\nbreak \"quoted\" \\ tab\t", resp.Error.Message)
}

func decodeLogLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var lines []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		lines = append(lines, m)
	}
	return lines
}
