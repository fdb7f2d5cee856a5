package handlers

import (
	"log/slog"
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
)

const csrfCookieMaxAge = 12 * 60 * 60

// CSRFHandler issues double-submit CSRF tokens
type CSRFHandler struct {
	cookies auth.CookieConfig
	logger  *slog.Logger
}

// NewCSRFHandler creates a new CSRFHandler
func NewCSRFHandler(cookies auth.CookieConfig, logger *slog.Logger) *CSRFHandler {
	return &CSRFHandler{cookies: cookies, logger: logger}
}

// CSRFTokenResponse carries a token to echo in X-CSRF-Token
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrf_token"`
	Header    string `json:"header"`
	ExpiresIn int    `json:"expires_in"`
}

// Token handles GET /api/v1/csrf
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, err := auth.GenerateCSRFToken()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to generate csrf token", slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "failed to generate csrf token")
		return
	}

	auth.SetCSRFTokenCookie(w, token, csrfCookieMaxAge, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, CSRFTokenResponse{
		CSRFToken: token,
		Header:    auth.CSRFHeader,
		ExpiresIn: csrfCookieMaxAge,
	})
}
