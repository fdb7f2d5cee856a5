package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
)

// QuarantineAdmin manages isolated files.
// *filesecurity.QuarantineManager satisfies it.
type QuarantineAdmin interface {
	Get(ctx context.Context, id string) (*models.QuarantineRecord, error)
	List(ctx context.Context, filter filesecurity.QuarantineFilter) ([]*models.QuarantineRecord, error)
	Release(ctx context.Context, id string, dst io.Writer, releasedBy string) (*models.QuarantineRecord, error)
	Delete(ctx context.Context, id, deletedBy string, permanent bool) error
	Analyze(ctx context.Context, id string) (map[string]interface{}, error)
	Stats(ctx context.Context) (*models.QuarantineStats, error)
}

// QuarantineHandler serves the quarantine admin endpoints
type QuarantineHandler struct {
	quarantine QuarantineAdmin
	logger     *slog.Logger
}

// NewQuarantineHandler creates a new QuarantineHandler
func NewQuarantineHandler(quarantine QuarantineAdmin, logger *slog.Logger) *QuarantineHandler {
	return &QuarantineHandler{quarantine: quarantine, logger: logger}
}

type quarantineListQuery struct {
	Status string `param:"status" validate:"omitempty,oneof=quarantined under_analysis released permanently_deleted expired"`
	Reason string `param:"reason" validate:"omitempty,oneof=virus_detected malware_detected suspicious_content validation_failed policy_violation manual_quarantine threat_intelligence unknown_threat"`
	UserID string `param:"user_id" validate:"omitempty,max=128"`
}

// QuarantineListResponse is a page of quarantine records
type QuarantineListResponse struct {
	Records []*models.QuarantineRecord `json:"records"`
	Count   int                        `json:"count"`
}

// QuarantineDeleteRequest is the optional body of DELETE /admin/quarantine/{id}
type QuarantineDeleteRequest struct {
	Permanent bool `json:"permanent"`
}

// List handles GET /api/v1/admin/quarantine
func (h *QuarantineHandler) List(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	params := quarantineListQuery{Status: qs.Get("status"), Reason: qs.Get("reason"), UserID: qs.Get("user_id")}
	if err := ValidateRequest(params); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	records, err := h.quarantine.List(r.Context(), filesecurity.QuarantineFilter{
		Status: models.QuarantineStatus(params.Status),
		Reason: models.QuarantineReason(params.Reason),
		UserID: params.UserID,
		Limit:  queryInt(r, "limit", 100, 1000),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to list quarantine")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, QuarantineListResponse{Records: records, Count: len(records)})
}

// Stats handles GET /api/v1/admin/quarantine/stats
func (h *QuarantineHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.quarantine.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read quarantine stats")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// Get handles GET /api/v1/admin/quarantine/{id}
func (h *QuarantineHandler) Get(w http.ResponseWriter, r *http.Request) {
	record, err := h.quarantine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read quarantine record")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, record)
}

// Release handles POST /api/v1/admin/quarantine/{id}/release. The original
// bytes are streamed back as an attachment.
func (h *QuarantineHandler) Release(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.quarantine.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to read quarantine record")
		return
	}

	// Buffer so a failed release can still produce an error status.
	var buf bytes.Buffer
	if _, err := h.quarantine.Release(r.Context(), id, &buf, actorID(r)); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to release file")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", record.OriginalName))
	w.Header().Set("X-Quarantine-ID", id)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Analyze handles POST /api/v1/admin/quarantine/{id}/analyze
func (h *QuarantineHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.quarantine.Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to analyze quarantined file")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, analysis)
}

// Delete handles DELETE /api/v1/admin/quarantine/{id}
func (h *QuarantineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req QuarantineDeleteRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			pkghttp.WriteBadRequest(w, "invalid request body")
			return
		}
	}

	if err := h.quarantine.Delete(r.Context(), chi.URLParam(r, "id"), actorID(r), req.Permanent); err != nil {
		writeServiceError(w, r, h.logger, err, "failed to delete quarantined file")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
