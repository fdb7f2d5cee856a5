package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AuditReader is the read side of the audit logger.
// *services.AuditService satisfies it.
type AuditReader interface {
	QueryLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error)
	GetUserActivity(ctx context.Context, userID string, days int) (*models.UserActivity, error)
	GetSecurityMetrics(ctx context.Context, hours int) (*models.SecurityMetrics, error)
	ExportAuditLog(ctx context.Context, w io.Writer, req services.ExportRequest) (int, error)
}

// AuditHandler serves the audit admin endpoints
type AuditHandler struct {
	audit    AuditReader
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit AuditReader, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, ipConfig: ipConfig, logger: logger}
}

// auditLogQuery mirrors the query string of GET /admin/audit/logs
type auditLogQuery struct {
	UserID    string `param:"user_id" validate:"omitempty,max=128"`
	EventType string `param:"event_type" validate:"omitempty,max=64"`
	Severity  string `param:"severity" validate:"omitempty,oneof=info warning error critical"`
	IPAddress string `param:"ip_address" validate:"omitempty,ip"`
	StartDate string `param:"start_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate   string `param:"end_date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// AuditLogsResponse is a page of audit entries
type AuditLogsResponse struct {
	Entries []models.AuditLogEntry `json:"entries"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// GetLogs handles GET /api/v1/admin/audit/logs
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	params := auditLogQuery{
		UserID:    qs.Get("user_id"),
		EventType: qs.Get("event_type"),
		Severity:  qs.Get("severity"),
		IPAddress: qs.Get("ip_address"),
		StartDate: qs.Get("start_date"),
		EndDate:   qs.Get("end_date"),
	}
	if err := ValidateRequest(params); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	q := models.AuditQuery{
		UserID:    params.UserID,
		Event:     models.AuditEvent(params.EventType),
		Severity:  models.AuditSeverity(params.Severity),
		IPAddress: params.IPAddress,
		Limit:     queryInt(r, "limit", 100, 1000),
		Offset:    queryInt(r, "offset", 0, 1_000_000),
	}
	if q.Event != "" && !q.Event.Valid() {
		pkghttp.WriteBadRequest(w, "unknown event_type")
		return
	}
	q.StartDate = parseTime(params.StartDate)
	q.EndDate = parseTime(params.EndDate)

	entries, err := h.audit.QueryLogs(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to query audit logs")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, AuditLogsResponse{Entries: entries, Limit: q.Limit, Offset: q.Offset})
}

// GetUserActivity handles GET /api/v1/admin/audit/users/{id}/activity
func (h *AuditHandler) GetUserActivity(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user id is required")
		return
	}

	activity, err := h.audit.GetUserActivity(r.Context(), userID, queryInt(r, "days", 30, 365))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get user activity")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, activity)
}

// GetSecurityMetrics handles GET /api/v1/admin/audit/metrics
func (h *AuditHandler) GetSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.audit.GetSecurityMetrics(r.Context(), queryInt(r, "hours", 24, 24*90))
	if err != nil {
		writeServiceError(w, r, h.logger, err, "failed to get security metrics")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, metrics)
}

// auditExportQuery mirrors the query string of GET /admin/audit/export
type auditExportQuery struct {
	StartDate string `param:"start_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndDate   string `param:"end_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Format    string `param:"format" validate:"omitempty,oneof=json csv"`
}

// Export handles GET /api/v1/admin/audit/export
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	params := auditExportQuery{
		StartDate: qs.Get("start_date"),
		EndDate:   qs.Get("end_date"),
		Format:    qs.Get("format"),
	}
	if err := ValidateRequest(params); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if params.Format == "" {
		params.Format = "json"
	}

	req := services.ExportRequest{
		Start:       *parseTime(params.StartDate),
		End:         *parseTime(params.EndDate),
		Format:      params.Format,
		RequestedBy: actorID(r),
		IPAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
	}
	if req.End.Before(req.Start) {
		pkghttp.WriteBadRequest(w, "end_date must not be before start_date")
		return
	}

	contentType := "application/json"
	if params.Format == "csv" {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit_%s_%s.%s"`,
		req.Start.UTC().Format("20060102"), req.End.UTC().Format("20060102"), params.Format))

	n, err := h.audit.ExportAuditLog(r.Context(), w, req)
	if err == nil {
		return
	}
	if n == 0 {
		w.Header().Del("Content-Disposition")
		writeServiceError(w, r, h.logger, err, "failed to export audit log")
		return
	}
	// The body is partly written, so the status can no longer change.
	h.logger.ErrorContext(r.Context(), "audit export failed",
		slog.Int("entries_written", n),
		slog.String("error", err.Error()))
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}
