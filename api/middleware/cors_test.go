package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSExposesClientHeaders(t *testing.T) {
	handler := CORS([]string{"https://app.bidroom.test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bids", nil)
	req.Header.Set("Origin", "https://app.bidroom.test")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, "https://app.bidroom.test", resp.Header().Get("Access-Control-Allow-Origin"))
	exposed := resp.Header().Get("Access-Control-Expose-Headers")
	assert.Contains(t, exposed, "Retry-After")
	assert.Contains(t, exposed, replayedHeader)
}

func TestCORSPreflightAllowsIdempotencyKey(t *testing.T) {
	handler := CORS(nil)(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/negotiation", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, "http://localhost:3000", resp.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	handler := CORS([]string{"https://app.bidroom.test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
}
