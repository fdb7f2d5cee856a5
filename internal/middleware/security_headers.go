package middleware

import (
	"net/http"
	"strings"
)

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests.
	EnableHSTS bool
	// ContentPolicy overrides the environment's default CSP when set.
	ContentPolicy string
}

const productionCSP = "default-src 'self'; " +
	"script-src 'self'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"font-src 'self'; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

// More lenient for development to allow hot reloading
const developmentCSP = "default-src 'self' http: https: ws:; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https: ws:; " +
	"style-src 'self' 'unsafe-inline' http: https:; " +
	"img-src 'self' data: https: http:; " +
	"font-src 'self' data: http: https:; " +
	"connect-src 'self' http: https: ws: wss:; " +
	"frame-ancestors 'self'; " +
	"base-uri 'self'; " +
	"form-action 'self'"

// SecurityHeaders returns a middleware that adds security headers to all responses
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	production := config.Env == "production"
	csp := config.ContentPolicy
	if csp == "" {
		csp = developmentCSP
		if production {
			csp = productionCSP
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			// Clickjacking protection
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			// Legacy XSS filter for older browsers
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", csp)

			// Only send for HTTPS connections
			if config.EnableHSTS && (r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil) {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			h.Set("Permissions-Policy",
				"accelerometer=(), "+
					"camera=(), "+
					"geolocation=(), "+
					"gyroscope=(), "+
					"magnetometer=(), "+
					"microphone=(), "+
					"payment=(), "+
					"usb=()",
			)
			h.Set("X-DNS-Prefetch-Control", "off")

			// Production: require-corp (strict isolation)
			// Development: credentialless (allows third-party resources for tooling)
			if production {
				h.Set("Cross-Origin-Embedder-Policy", "require-corp")
			} else {
				h.Set("Cross-Origin-Embedder-Policy", "credentialless")
			}
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			// API responses carry per-user security data and must never be cached
			if strings.HasPrefix(r.URL.Path, "/api/") {
				h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
				h.Set("Pragma", "no-cache")
				h.Set("Expires", "0")
			}

			next.ServeHTTP(w, r)
		})
	}
}
