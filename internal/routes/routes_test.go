package routes_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/handlers"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/routes"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routes-test-secret-at-least-32-bytes!!"

func newRouter(t *testing.T, adminPerMinute int) (http.Handler, *auth.TokenManager) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	kv := store.NewFromRedis(rdb, logger)

	audit := services.NewAuditService(kv, services.AuditConfig{}, logger)
	limiter, err := services.NewRateLimitService(kv, services.RateLimitConfig{}, logger)
	require.NoError(t, err)
	lockout := services.NewLockoutService(kv, services.LockoutConfig{}, audit, nil, logger)
	quarantine, err := filesecurity.NewQuarantineManager(kv,
		filesecurity.DefaultQuarantineConfig(filepath.Join(t.TempDir(), "quarantine")), nil, audit, logger)
	require.NoError(t, err)

	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Handlers{
		Health:     handlers.NewHealthHandler(map[string]handlers.HealthChecker{"store": kv}, logger),
		CSRF:       handlers.NewCSRFHandler(auth.CookieConfig{}, logger),
		Upload:     handlers.NewUploadHandler(nil, 1024, nil, logger),
		Audit:      handlers.NewAuditHandler(audit, nil, logger),
		Lockout:    handlers.NewLockoutHandler(lockout, logger),
		RateLimit:  handlers.NewRateLimitHandler(limiter, logger),
		Quarantine: handlers.NewQuarantineHandler(quarantine, logger),
	}, tm, adminPerMinute)

	// Seed one record so the quarantine list is not empty.
	_, err = quarantine.Quarantine(context.Background(), filesecurity.QuarantineRequest{
		Data: []byte("x"), FileName: "a.pdf", Reason: models.QuarantineManual,
	})
	require.NoError(t, err)
	return router, tm
}

func bearer(t *testing.T, tm *auth.TokenManager, role string) string {
	t.Helper()
	token, err := tm.GenerateAccessToken("u-"+role, role+"@example.com", role)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(h http.Handler, method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPublicRoutes(t *testing.T) {
	router, _ := newRouter(t, 100)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/metrics", "").Code)

	w := serve(router, http.MethodGet, "/api/v1/csrf", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Result().Cookies())
}

func TestUploadRequiresToken(t *testing.T) {
	router, _ := newRouter(t, 100)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/api/v1/uploads", "").Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	router, tm := newRouter(t, 100)
	admin := bearer(t, tm, models.RoleAdmin)
	user := bearer(t, tm, models.RoleUser)

	paths := []string{
		"/api/v1/admin/audit/logs",
		"/api/v1/admin/audit/metrics",
		"/api/v1/admin/audit/users/u1/activity",
		"/api/v1/admin/lockouts/alice",
		"/api/v1/admin/lockouts/alice/history",
		"/api/v1/admin/brute-force/192.0.2.10",
		"/api/v1/admin/rate-limits/ip:192.0.2.10",
		"/api/v1/admin/quarantine",
		"/api/v1/admin/quarantine/stats",
	}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, path, "").Code)
			assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, path, user).Code)
			assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, path, admin).Code)
		})
	}
}

func TestAdminRoutesRejectForgedToken(t *testing.T) {
	router, _ := newRouter(t, 100)
	forged := auth.NewTokenManager("some-other-secret-of-sufficient-size", time.Minute)
	w := serve(router, http.MethodGet, "/api/v1/admin/audit/logs", bearer(t, forged, models.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRateLimitCeiling(t *testing.T) {
	router, tm := newRouter(t, 2)
	admin := bearer(t, tm, models.RoleAdmin)

	var codes []int
	for i := 0; i < 3; i++ {
		codes = append(codes, serve(router, http.MethodGet, "/api/v1/admin/quarantine/stats", admin).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
