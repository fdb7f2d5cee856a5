package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
)

// RateLimitAdmin inspects and resets limiter state.
// *services.RateLimitService satisfies it.
type RateLimitAdmin interface {
	GetRateLimitStatus(ctx context.Context, identifier, endpoint string) (*models.RateLimitStatus, error)
	ResetRateLimit(ctx context.Context, identifier string) (int64, error)
}

// RateLimitHandler serves the rate limit admin endpoints
type RateLimitHandler struct {
	limiter RateLimitAdmin
	logger  *slog.Logger
}

// NewRateLimitHandler creates a new RateLimitHandler
func NewRateLimitHandler(limiter RateLimitAdmin, logger *slog.Logger) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter, logger: logger}
}

// RateLimitResetResponse reports how many counters were cleared
type RateLimitResetResponse struct {
	Identifier  string `json:"identifier"`
	KeysCleared int64  `json:"keys_cleared"`
}

// GetStatus handles GET /api/v1/admin/rate-limits/{identifier}?endpoint=
func (h *RateLimitHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	if err := validate.Var(endpoint, "omitempty,max=64"); err != nil {
		pkghttp.WriteBadRequest(w, "invalid endpoint")
		return
	}

	status, err := h.limiter.GetRateLimitStatus(r.Context(), chi.URLParam(r, "identifier"), endpoint)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read rate limit status")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// Reset handles DELETE /api/v1/admin/rate-limits/{identifier}
func (h *RateLimitHandler) Reset(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	cleared, err := h.limiter.ResetRateLimit(r.Context(), identifier)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to reset rate limit")
		return
	}

	h.logger.InfoContext(r.Context(), "rate limit reset",
		slog.String("identifier", identifier),
		slog.String("admin_user", actorID(r)),
		slog.Int64("keys_cleared", cleared))
	pkghttp.WriteJSON(w, http.StatusOK, RateLimitResetResponse{Identifier: identifier, KeysCleared: cleared})
}
