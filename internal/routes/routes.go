package routes

import (
	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/handlers"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/middleware"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Health     *handlers.HealthHandler
	CSRF       *handlers.CSRFHandler
	Upload     *handlers.UploadHandler
	Audit      *handlers.AuditHandler
	Lockout    *handlers.LockoutHandler
	RateLimit  *handlers.RateLimitHandler
	Quarantine *handlers.QuarantineHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, tokenManager *auth.TokenManager, adminPerMinute int) {
	router.Get("/health", h.Health.Health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		// Public routes - no authentication required
		r.Get("/csrf", h.CSRF.Token)

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager))
			r.Post("/uploads", h.Upload.Upload)
		})

		// Admin-only routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminRateLimit(adminPerMinute))
			r.Use(auth.AuthMiddleware(tokenManager))
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Route("/audit", func(r chi.Router) {
				r.Get("/logs", h.Audit.GetLogs)
				r.Get("/users/{id}/activity", h.Audit.GetUserActivity)
				r.Get("/metrics", h.Audit.GetSecurityMetrics)
				r.Get("/export", h.Audit.Export)
			})

			r.Route("/lockouts/{identifier}", func(r chi.Router) {
				r.Get("/", h.Lockout.GetStatus)
				r.Post("/", h.Lockout.Lock)
				r.Delete("/", h.Lockout.Unlock)
				r.Get("/history", h.Lockout.GetHistory)
			})
			r.Get("/brute-force/{ip}", h.Lockout.GetBruteForceStats)

			r.Get("/rate-limits/{identifier}", h.RateLimit.GetStatus)
			r.Delete("/rate-limits/{identifier}", h.RateLimit.Reset)

			r.Route("/quarantine", func(r chi.Router) {
				r.Get("/", h.Quarantine.List)
				r.Get("/stats", h.Quarantine.Stats)
				r.Get("/{id}", h.Quarantine.Get)
				r.Post("/{id}/release", h.Quarantine.Release)
				r.Post("/{id}/analyze", h.Quarantine.Analyze)
				r.Delete("/{id}", h.Quarantine.Delete)
			})
		})
	})
}
