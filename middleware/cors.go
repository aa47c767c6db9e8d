// Package middleware holds the HTTP middleware applied by the router and
// the form API.
package middleware

import (
	"net/http"

	"github.com/dalemusser/regform/config"
	"github.com/go-chi/cors"
)

// CORS applies the configured cross-origin policy for the form API. When
// CORS is disabled it returns an identity middleware.
func CORS(cfg config.CORSConfig) func(next http.Handler) http.Handler {
	if !cfg.EnableCORS {
		return func(next http.Handler) http.Handler { return next }
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}
