package shield

import "net/http"

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CacheControl        string
}

// DefaultHeaders returns the header set for a JSON API that serves no pages.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
		CacheControl:        "no-store",
	}
}

// SecurityHeaders returns middleware that sets the configured headers on
// every response. Empty fields are skipped.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	set := func(h http.Header, k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			set(h, "X-Content-Type-Options", cfg.XContentTypeOptions)
			set(h, "X-Frame-Options", cfg.XFrameOptions)
			set(h, "Referrer-Policy", cfg.ReferrerPolicy)
			set(h, "Content-Security-Policy", cfg.CSP)
			set(h, "Cache-Control", cfg.CacheControl)
			next.ServeHTTP(w, r)
		})
	}
}
