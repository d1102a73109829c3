package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// SecurityHeadersConfig controls the headers set on every response. HSTS is
// only sent on HTTPS responses.
type SecurityHeadersConfig struct {
	HSTSMaxAge        int
	IncludeSubdomains bool
	TrustProxyHeader  bool
}

func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{HSTSMaxAge: 31536000, IncludeSubdomains: true, TrustProxyHeader: true}
}

// SecurityHeaders sets baseline headers. Token and consent responses must
// never be cached.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")

			isHTTPS := r.TLS != nil
			if cfg.TrustProxyHeader {
				if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
					isHTTPS = strings.EqualFold(proto, "https")
				}
			}
			if isHTTPS {
				h.Set("Strict-Transport-Security", hsts(cfg))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hsts(cfg SecurityHeadersConfig) string {
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	v := "max-age=" + strconv.Itoa(maxAge)
	if cfg.IncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}
