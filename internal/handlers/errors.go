package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
)

// writeServiceError maps service sentinels onto HTTP responses. Anything
// unrecognised is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrQuarantineNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrInvalidQuarantineState):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrFileTooLarge):
		pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size")
	case errors.Is(err, models.ErrQuarantineFull):
		pkghttp.WriteError(w, http.StatusInsufficientStorage, "quarantine_full", "quarantine storage limit reached")
	case errors.Is(err, models.ErrStoreUnavailable):
		logger.ErrorContext(r.Context(), fallback, slog.String("error", err.Error()))
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "security store unavailable")
	default:
		logger.ErrorContext(r.Context(), fallback, slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, fallback)
	}
}

// queryInt reads a positive integer query parameter, clamped to max.
// Missing or malformed values yield def.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// actorID is the admin performing the request, for audit attribution.
func actorID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
