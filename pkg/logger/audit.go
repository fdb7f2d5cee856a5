package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditRecord is an audit entry that could not be persisted and is written
// to the process log instead.
type AuditRecord struct {
	ID        string
	Event     string
	Severity  string
	Timestamp time.Time
	UserID    string
	IPAddress string
	UserAgent string
	SessionID string
	RequestID string
	Details   map[string]interface{}
}

// AuditLogger is the fallback sink for audit entries
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogFallback writes record at a level derived from its severity, tagged
// with the storage error that forced the fallback.
func (al *AuditLogger) LogFallback(ctx context.Context, record AuditRecord, cause error) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("audit_id", record.ID),
		slog.String("event_type", record.Event),
		slog.String("severity", record.Severity),
		slog.String("timestamp", record.Timestamp.UTC().Format(time.RFC3339Nano)),
		slog.Bool("fallback", true),
	}

	if record.UserID != "" {
		attrs = append(attrs, slog.String("user_id", MaskIdentifier(record.UserID)))
	}
	if record.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", record.IPAddress))
	}
	if record.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", record.UserAgent))
	}
	if record.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", record.SessionID))
	}
	if record.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", record.RequestID))
	}
	if len(record.Details) > 0 {
		attrs = append(attrs, slog.Any("details", record.Details))
	}
	if cause != nil {
		attrs = append(attrs, slog.String("store_error", cause.Error()))
	}

	al.logger.LogAttrs(ctx, severityLevel(record.Severity), "audit", attrs...)
}

func severityLevel(severity string) slog.Level {
	switch severity {
	case "critical", "error":
		return slog.LevelError
	case "warning":
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
