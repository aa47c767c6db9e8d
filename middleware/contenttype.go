package middleware

import (
	"mime"
	"net/http"
	"strings"

	"github.com/dalemusser/regform/httputil"
)

// RequireJSON rejects requests with a body whose Content-Type is not
// application/json or a +json type. Bodyless requests pass through.
func RequireJSON() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil || (mt != "application/json" && !strings.HasSuffix(mt, "+json")) {
				httputil.JSONError(w, http.StatusUnsupportedMediaType,
					"unsupported_media_type",
					"Content-Type must be application/json",
				)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
