package httpapi

import (
	"context"
	"net/http"

	"github.com/dalemusser/regform/httputil"
	"go.uber.org/zap"
)

// Check is a health probe. It returns nil when the dependency is usable.
type Check func(ctx context.Context) error

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler answers 200 {"status":"ok"} when every check passes and
// 503 with per-check results otherwise. Without checks it is a plain
// liveness probe.
func healthHandler(checks map[string]Check, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(checks) == 0 {
			httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
			return
		}

		results := make(map[string]string, len(checks))
		failed := false
		for name, check := range checks {
			if check == nil {
				results[name] = "ok"
				continue
			}
			if err := check(r.Context()); err != nil {
				failed = true
				results[name] = "error: " + err.Error()
				logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			results[name] = "ok"
		}

		if failed {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "error", Checks: results})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Checks: results})
	}
}
