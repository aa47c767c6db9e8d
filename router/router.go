// Package router builds the chi router with the standard middleware stack.
package router

import (
	"github.com/dalemusser/regform/config"
	"github.com/dalemusser/regform/logging"
	"github.com/dalemusser/regform/metrics"
	"github.com/dalemusser/regform/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// New returns a chi.Router wired with:
//   - RequestID and RealIP
//   - panic recovery
//   - the request body size limit
//   - HTTP metrics
//   - access logging
//   - JSON NotFound and MethodNotAllowed handlers
//
// Routes are mounted by the caller.
func New(cfg *config.Config, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Recoverer(logger))
	r.Use(middleware.LimitBodySize(cfg.MaxRequestBodyBytes))
	r.Use(metrics.HTTPMetrics)
	r.Use(logging.RequestLogger(logger))

	r.NotFound(middleware.NotFoundHandler(logger))
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))

	return r
}
