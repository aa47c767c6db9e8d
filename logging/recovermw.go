package logging

import (
	"net/http"
	"runtime/debug"

	"github.com/dalemusser/regform/httputil"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Recoverer turns handler panics into a logged error and a JSON 500. When
// the handler already wrote a status, only the log entry is produced.
func Recoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, protoMajor(r))

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic_value", rec),
					zap.ByteString("stacktrace", debug.Stack()),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				if ww.Status() == 0 {
					httputil.JSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				logger.Warn("panic occurred after headers written; response may be incomplete",
					zap.Int("status_already_sent", ww.Status()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
