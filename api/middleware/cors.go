package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000",
}

// CORS applies the browser origin policy. Clients read the request id, the
// rate-limit retry hint and the idempotent replay marker from responses, so
// those headers are exposed. An empty origin list falls back to local
// development.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After", replayedHeader},
		// Bearer tokens travel in a header, never a cookie.
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
