package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func protected(tm *auth.TokenManager, role string) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.GetUserFromContext(r)
		w.Header().Set("X-User", claims.UserID)
		w.WriteHeader(http.StatusOK)
	})
	return auth.AuthMiddleware(tm)(auth.RequireRole(role)(final))
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit/logs", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware_AdminTokenPasses(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	token, err := tm.GenerateAccessToken("admin-1", "admin@example.com", models.RoleAdmin)
	require.NoError(t, err)

	rec := serve(protected(tm, models.RoleAdmin), token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", rec.Header().Get("X-User"))
}

func TestAuthMiddleware_WrongRoleIsForbidden(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	token, err := tm.GenerateAccessToken("user-1", "", models.RoleUser)
	require.NoError(t, err)

	rec := serve(protected(tm, models.RoleAdmin), token)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"forbidden"`)
}

func TestAuthMiddleware_RejectsBadTokens(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	other := auth.NewTokenManager("a-completely-different-signing-secret", 15*time.Minute)
	foreign, err := other.GenerateAccessToken("admin-1", "", models.RoleAdmin)
	require.NoError(t, err)

	expired, err := auth.NewTokenManager(testSecret, time.Minute).
		WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).
		GenerateAccessToken("admin-1", "", models.RoleAdmin)
	require.NoError(t, err)

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		Type:   "refresh",
		UserID: "admin-1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	refreshToken, err := refresh.SignedString([]byte(testSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"foreign": foreign,
		"expired": expired,
		"refresh": refreshToken,
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(protected(tm, models.RoleAdmin), token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthMiddleware_RejectsNonBearerScheme(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	token, err := tm.GenerateAccessToken("admin-1", "", models.RoleAdmin)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec := httptest.NewRecorder()
	protected(tm, models.RoleAdmin).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalAuth(t *testing.T) {
	tm := auth.NewTokenManager(testSecret, 15*time.Minute)
	token, err := tm.GenerateAccessToken("user-7", "", models.RoleUser)
	require.NoError(t, err)

	var seen *models.TokenClaims
	h := auth.OptionalAuth(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetUserFromContext(r)
	}))

	serve(h, token)
	require.NotNil(t, seen)
	assert.Equal(t, "user-7", seen.UserID)

	seen = nil
	rec := serve(h, "not-a-jwt")
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckCSRFToken(t *testing.T) {
	token, err := auth.GenerateCSRFToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.False(t, auth.CheckCSRFToken(req))

	req.Header.Set(auth.CSRFHeader, token)
	assert.True(t, auth.CheckCSRFToken(req))

	req.AddCookie(&http.Cookie{Name: auth.CSRFCookieName, Value: token})
	assert.True(t, auth.CheckCSRFToken(req))

	mismatched := httptest.NewRequest(http.MethodPost, "/", nil)
	mismatched.Header.Set(auth.CSRFHeader, token)
	mismatched.AddCookie(&http.Cookie{Name: auth.CSRFCookieName, Value: "other"})
	assert.False(t, auth.CheckCSRFToken(mismatched))
}
