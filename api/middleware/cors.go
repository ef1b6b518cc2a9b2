package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const corsMaxAge = 5 * 60

// CORS lets browser clients on origins call the API, including idempotent retries.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader, "Idempotent-Replayed", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	}
	return cors.Handler(opts)
}
