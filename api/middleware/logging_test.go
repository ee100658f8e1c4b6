package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "logging-test", Output: &buf})

	router := chi.NewRouter()
	router.Use(Logging(logg))
	router.Get("/api/v1/bids/{bidId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/bids/123", nil))
	require.Equal(t, http.StatusTeapot, resp.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "request.complete", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "/api/v1/bids/{bidId}", line["route"])
	assert.Equal(t, "/api/v1/bids/123", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, 5, line["bytes"])
}

func TestLoggingDemotesHealthChecks(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "logging-test", Output: &buf})
	handler := Logging(logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.True(t, strings.Contains(buf.String(), `"level":"debug"`), buf.String())
	assert.Contains(t, buf.String(), `"status":200`)
}

func TestLoggingWithoutLoggerPassesThrough(t *testing.T) {
	called := false
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
