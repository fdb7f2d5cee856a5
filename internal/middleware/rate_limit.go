package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimiter is the admission check applied per request.
// *services.RateLimitService satisfies it.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, identifier, endpoint string) (*models.RateLimitResult, error)
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	SkipPaths []string
	IPConfig  *pkghttp.IPConfig
}

// DefaultRateLimitConfig skips health, docs and metrics.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		SkipPaths: []string{"/health", "/docs", "/metrics"},
	}
}

// RateLimit applies the shared store-backed limiter, keyed by the
// authenticated user or else the client IP.
func RateLimit(limiter RateLimiter, config RateLimitConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier := "ip:" + pkghttp.ExtractClientIP(r, config.IPConfig)
			if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
				identifier = "user:" + claims.UserID
			}

			result, err := limiter.CheckRateLimit(r.Context(), identifier, RateLimitEndpoint(r.URL.Path))
			if err != nil {
				// The limiter already fails open on store errors; anything
				// else is a caller bug and must not block traffic either.
				logger.ErrorContext(r.Context(), "rate limit middleware error", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			h.Set("X-RateLimit-Reset", result.ResetTime.UTC().Format(time.RFC3339))

			if !result.Allowed {
				retryAfter := 1
				if result.RetryAfter != nil {
					retryAfter = max(1, int(math.Ceil(result.RetryAfter.Seconds())))
				}
				pkghttp.WriteRateLimited(w, retryAfter, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitEndpoint maps a request path onto a limiter endpoint key.
func RateLimitEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth/"):
		segments := strings.Split(strings.TrimRight(path, "/"), "/")
		return "auth:" + segments[len(segments)-1]
	case strings.HasPrefix(path, "/api/v1/uploads"):
		return "upload:file"
	case strings.HasPrefix(path, "/api/v1/"):
		return "api:general"
	}
	return ""
}

// AdminRateLimit is an in-process per-IP ceiling for admin routes. It holds
// even when the shared store is down and the main limiter fails open.
func AdminRateLimit(requestsPerMinute int) func(next http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRateLimited(w, 60, "rate limit exceeded")
		}),
	)
}
