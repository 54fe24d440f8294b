package util

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS allows the dashboard origins to call the API with bearer tokens.
// An empty origin list allows any origin without credentials.
func WithCORS(allowedOrigins []string, next http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         600,
	}
	if len(allowedOrigins) > 0 {
		opts.AllowedOrigins = allowedOrigins
		opts.AllowCredentials = true
	} else {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler(next)
}
