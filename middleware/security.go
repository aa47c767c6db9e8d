package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersOptions selects the response headers set by
// SecurityHeaders. Empty strings and a zero HSTSMaxAge disable a header.
type SecurityHeadersOptions struct {
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string

	// HSTSMaxAge is only sent on TLS requests.
	HSTSMaxAge            int
	HSTSIncludeSubDomains bool
}

// APISecurityHeaders returns the options used for the JSON API: no
// framing, no sniffing, no referrer, and no caching of form state.
func APISecurityHeaders() SecurityHeadersOptions {
	return SecurityHeadersOptions{
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		CacheControl:          "no-store",
		HSTSMaxAge:            31536000,
		HSTSIncludeSubDomains: true,
	}
}

// SecurityHeaders sets the headers selected by opts on every response.
func SecurityHeaders(opts SecurityHeadersOptions) func(next http.Handler) http.Handler {
	var hsts string
	if opts.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(opts.HSTSMaxAge)
		if opts.HSTSIncludeSubDomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			setIf(h, "X-Frame-Options", opts.XFrameOptions)
			setIf(h, "X-Content-Type-Options", opts.XContentTypeOptions)
			setIf(h, "Referrer-Policy", opts.ReferrerPolicy)
			setIf(h, "Cache-Control", opts.CacheControl)
			if r.TLS != nil {
				setIf(h, "Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
