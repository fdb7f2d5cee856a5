package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
)

// LockoutAdmin is the administrative side of the lockout service.
// *services.LockoutService satisfies it.
type LockoutAdmin interface {
	CheckLockoutStatus(ctx context.Context, identifier string) (*models.AccountLockoutInfo, error)
	ManualLockout(ctx context.Context, identifier string, req services.ManualLockoutRequest) (*models.AccountLockoutInfo, error)
	UnlockAccount(ctx context.Context, identifier, adminUser, reason string) error
	GetLockoutHistory(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error)
	GetUnlockLog(ctx context.Context, identifier string) ([]models.UnlockEvent, error)
	GetBruteForceStats(ctx context.Context, ipAddress string) (*models.BruteForceStats, error)
}

// LockoutHandler serves the lockout admin endpoints
type LockoutHandler struct {
	lockout LockoutAdmin
	logger  *slog.Logger
}

// NewLockoutHandler creates a new LockoutHandler
func NewLockoutHandler(lockout LockoutAdmin, logger *slog.Logger) *LockoutHandler {
	return &LockoutHandler{lockout: lockout, logger: logger}
}

// ManualLockoutRequest is the body of POST /admin/lockouts/{identifier}
type ManualLockoutRequest struct {
	Reason          string `json:"reason" validate:"omitempty,oneof=failed_login_attempts brute_force_detected suspicious_activity administrative_lock password_reset_abuse"`
	// DurationMinutes of zero locks until an admin unlocks.
	DurationMinutes int    `json:"duration_minutes" validate:"omitempty,gte=1,lte=43200"`
	Severity        string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
}

// UnlockRequest is the body of DELETE /admin/lockouts/{identifier}
type UnlockRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// LockoutHistoryResponse combines failures and admin unlocks
type LockoutHistoryResponse struct {
	Identifier string                `json:"identifier"`
	Attempts   []models.LoginAttempt `json:"attempts"`
	Unlocks    []models.UnlockEvent  `json:"unlocks"`
}

// GetStatus handles GET /api/v1/admin/lockouts/{identifier}
func (h *LockoutHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.lockout.CheckLockoutStatus(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read lockout status")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, info)
}

// Lock handles POST /api/v1/admin/lockouts/{identifier}
func (h *LockoutHandler) Lock(w http.ResponseWriter, r *http.Request) {
	var req ManualLockoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	info, err := h.lockout.ManualLockout(r.Context(), chi.URLParam(r, "identifier"), services.ManualLockoutRequest{
		Reason:    models.LockoutReason(req.Reason),
		Duration:  time.Duration(req.DurationMinutes) * time.Minute,
		Severity:  models.Severity(req.Severity),
		AdminUser: actorID(r),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to lock account")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, info)
}

// Unlock handles DELETE /api/v1/admin/lockouts/{identifier}
func (h *LockoutHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req UnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.lockout.UnlockAccount(r.Context(), chi.URLParam(r, "identifier"), actorID(r), req.Reason); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to unlock account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /api/v1/admin/lockouts/{identifier}/history
func (h *LockoutHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	attempts, err := h.lockout.GetLockoutHistory(r.Context(), identifier, queryInt(r, "limit", 50, 500))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read lockout history")
		return
	}
	unlocks, err := h.lockout.GetUnlockLog(r.Context(), identifier)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read unlock log")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, LockoutHistoryResponse{Identifier: identifier, Attempts: attempts, Unlocks: unlocks})
}

// GetBruteForceStats handles GET /api/v1/admin/brute-force/{ip}
func (h *LockoutHandler) GetBruteForceStats(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := validate.Var(ip, "required,ip"); err != nil {
		pkghttp.WriteBadRequest(w, "invalid ip address")
		return
	}
	stats, err := h.lockout.GetBruteForceStats(r.Context(), ip)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read brute force stats")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}
