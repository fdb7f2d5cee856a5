package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditEvent is the closed set of security-relevant event kinds.
type AuditEvent string

// Authentication events
const (
	EventLoginSuccess AuditEvent = "login_success"
	EventLoginFailure AuditEvent = "login_failure"
	EventLogout       AuditEvent = "logout"
	EventTokenRefresh AuditEvent = "token_refresh"
	EventTokenRevoked AuditEvent = "token_revoked"
)

// Registration and password events
const (
	EventRegistrationSuccess  AuditEvent = "registration_success"
	EventRegistrationFailure  AuditEvent = "registration_failure"
	EventEmailVerification    AuditEvent = "email_verification"
	EventPasswordResetRequest AuditEvent = "password_reset_request"
	EventPasswordResetSuccess AuditEvent = "password_reset_success"
	EventPasswordChange       AuditEvent = "password_change"
)

// OAuth events
const (
	EventOAuthLoginAttempt  AuditEvent = "oauth_login_attempt"
	EventOAuthLoginSuccess  AuditEvent = "oauth_login_success"
	EventOAuthLoginFailure  AuditEvent = "oauth_login_failure"
	EventOAuthAccountLinked AuditEvent = "oauth_account_linked"
)

// Security events
const (
	EventAccountLocked      AuditEvent = "account_locked"
	EventAccountUnlocked    AuditEvent = "account_unlocked"
	EventSuspiciousActivity AuditEvent = "suspicious_activity"
	EventBruteForceDetected AuditEvent = "brute_force_detected"
	EventRateLimitExceeded  AuditEvent = "rate_limit_exceeded"
)

// Authorization events
const (
	EventUnauthorizedAccess AuditEvent = "unauthorized_access"
	EventForbiddenAccess    AuditEvent = "forbidden_access"
	EventPermissionGranted  AuditEvent = "permission_granted"
	EventPermissionRevoked  AuditEvent = "permission_revoked"
	EventRoleAssigned       AuditEvent = "role_assigned"
	EventRoleRemoved        AuditEvent = "role_removed"
)

// API key events
const (
	EventAPIKeyCreated AuditEvent = "api_key_created"
	EventAPIKeyRevoked AuditEvent = "api_key_revoked"
	EventAPIKeyUsed    AuditEvent = "api_key_used"
	EventInvalidAPIKey AuditEvent = "invalid_api_key"
)

// Administrative and data access events
const (
	EventUserCreated         AuditEvent = "user_created"
	EventUserUpdated         AuditEvent = "user_updated"
	EventUserDeleted         AuditEvent = "user_deleted"
	EventUserSuspended       AuditEvent = "user_suspended"
	EventUserActivated       AuditEvent = "user_activated"
	EventSensitiveDataAccess AuditEvent = "sensitive_data_access"
	EventDataExport          AuditEvent = "data_export"
	EventDataDeletion        AuditEvent = "data_deletion"
)

// System events
const (
	EventSecurityConfigChanged AuditEvent = "security_config_changed"
	EventSystemError           AuditEvent = "system_error"
	EventSuspiciousRequest     AuditEvent = "suspicious_request"
)

// File pipeline events
const (
	EventFileUploaded    AuditEvent = "file_uploaded"
	EventFileValidated   AuditEvent = "file_validated"
	EventFileScanned     AuditEvent = "file_scanned"
	EventVirusFound      AuditEvent = "virus_found"
	EventThreatDetected  AuditEvent = "threat_detected"
	EventMalwareBlocked  AuditEvent = "malware_blocked"
	EventFileQuarantined AuditEvent = "file_quarantined"
	EventFileReleased    AuditEvent = "file_released"
	EventFileDeleted     AuditEvent = "file_deleted"
	EventFileSanitized   AuditEvent = "file_sanitized"
)

// AuditSeverity grades audit entries.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityError    AuditSeverity = "error"
	AuditSeverityCritical AuditSeverity = "critical"
)

// Valid reports whether s is a known audit severity.
func (s AuditSeverity) Valid() bool {
	switch s {
	case AuditSeverityInfo, AuditSeverityWarning, AuditSeverityError, AuditSeverityCritical:
		return true
	}
	return false
}

// AllAuditEvents lists every event kind, in declaration order.
var AllAuditEvents = []AuditEvent{
	EventLoginSuccess, EventLoginFailure, EventLogout, EventTokenRefresh, EventTokenRevoked,
	EventRegistrationSuccess, EventRegistrationFailure, EventEmailVerification,
	EventPasswordResetRequest, EventPasswordResetSuccess, EventPasswordChange,
	EventOAuthLoginAttempt, EventOAuthLoginSuccess, EventOAuthLoginFailure, EventOAuthAccountLinked,
	EventAccountLocked, EventAccountUnlocked, EventSuspiciousActivity, EventBruteForceDetected, EventRateLimitExceeded,
	EventUnauthorizedAccess, EventForbiddenAccess, EventPermissionGranted, EventPermissionRevoked,
	EventRoleAssigned, EventRoleRemoved,
	EventAPIKeyCreated, EventAPIKeyRevoked, EventAPIKeyUsed, EventInvalidAPIKey,
	EventUserCreated, EventUserUpdated, EventUserDeleted, EventUserSuspended, EventUserActivated,
	EventSensitiveDataAccess, EventDataExport, EventDataDeletion,
	EventSecurityConfigChanged, EventSystemError, EventSuspiciousRequest,
	EventFileUploaded, EventFileValidated, EventFileScanned, EventVirusFound, EventThreatDetected,
	EventMalwareBlocked, EventFileQuarantined, EventFileReleased, EventFileDeleted, EventFileSanitized,
}

// DefaultSeverity returns the severity an event is logged with when the
// caller does not override it. Every declared event has an explicit case.
func (e AuditEvent) DefaultSeverity() AuditSeverity {
	switch e {
	case EventBruteForceDetected, EventSecurityConfigChanged, EventVirusFound, EventMalwareBlocked:
		return AuditSeverityCritical
	case EventAccountLocked, EventSuspiciousActivity, EventUnauthorizedAccess, EventForbiddenAccess,
		EventInvalidAPIKey, EventSystemError, EventSuspiciousRequest:
		return AuditSeverityError
	case EventLoginFailure, EventTokenRevoked, EventRegistrationFailure, EventPasswordChange,
		EventOAuthLoginFailure, EventAccountUnlocked, EventRateLimitExceeded, EventPermissionRevoked,
		EventRoleRemoved, EventAPIKeyRevoked, EventUserDeleted, EventUserSuspended,
		EventSensitiveDataAccess, EventDataExport, EventDataDeletion,
		EventThreatDetected, EventFileQuarantined, EventFileReleased, EventFileDeleted:
		return AuditSeverityWarning
	case EventLoginSuccess, EventLogout, EventTokenRefresh, EventRegistrationSuccess,
		EventEmailVerification, EventPasswordResetRequest, EventPasswordResetSuccess,
		EventOAuthLoginAttempt, EventOAuthLoginSuccess, EventOAuthAccountLinked,
		EventPermissionGranted, EventRoleAssigned, EventAPIKeyCreated, EventAPIKeyUsed,
		EventUserCreated, EventUserUpdated, EventUserActivated,
		EventFileUploaded, EventFileValidated, EventFileScanned, EventFileSanitized:
		return AuditSeverityInfo
	}
	return AuditSeverityInfo
}

// Valid reports whether e is a declared event.
func (e AuditEvent) Valid() bool {
	for _, known := range AllAuditEvents {
		if e == known {
			return true
		}
	}
	return false
}

// ParseAuditEvent accepts either the wire value or its upper-case name.
func ParseAuditEvent(s string) (AuditEvent, error) {
	e := AuditEvent(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: unknown audit event %q", ErrBadRequest, s)
	}
	return e, nil
}

// ParseAuditSeverity validates a severity string.
func ParseAuditSeverity(s string) (AuditSeverity, error) {
	sev := AuditSeverity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("%w: unknown audit severity %q", ErrBadRequest, s)
	}
	return sev, nil
}

// AuditLogEntry is immutable once written.
type AuditLogEntry struct {
	ID        string        `json:"id"`
	Event     AuditEvent    `json:"event"`
	Severity  AuditSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Details   AuditMetadata `json:"details"`
	Metadata  AuditMetadata `json:"metadata"`
}

// AuditEventParams is the input to the audit logger. An empty Severity
// falls back to the event's default.
type AuditEventParams struct {
	Event     AuditEvent
	Severity  AuditSeverity
	UserID    string
	IPAddress string
	UserAgent string
	SessionID string
	RequestID string
	Details   map[string]interface{}
	Metadata  map[string]interface{}
}

// AuditQuery filters query_logs. Zero values mean "no filter".
type AuditQuery struct {
	UserID    string
	Event     AuditEvent
	Severity  AuditSeverity
	IPAddress string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// HasDimension reports whether any indexed dimension filter is set.
func (q AuditQuery) HasDimension() bool {
	return q.UserID != "" || q.Event != "" || q.Severity != "" || q.IPAddress != ""
}

// UserActivity summarizes a user's audit trail over a window.
type UserActivity struct {
	UserID             string                `json:"user_id"`
	PeriodDays         int                   `json:"period_days"`
	TotalEvents        int                   `json:"total_events"`
	EventsByType       map[AuditEvent]int    `json:"events_by_type"`
	EventsBySeverity   map[AuditSeverity]int `json:"events_by_severity"`
	RecentEvents       []AuditLogEntry       `json:"recent_events"`
	LoginCount         int                   `json:"login_count"`
	FailedLoginCount   int                   `json:"failed_login_count"`
	LastLogin          *time.Time            `json:"last_login,omitempty"`
	SuspiciousActivity bool                  `json:"suspicious_activity"`
}

// SecurityMetrics aggregates WARNING+ events for dashboards.
type SecurityMetrics struct {
	PeriodHours          int             `json:"period_hours"`
	TotalEvents          int             `json:"total_events"`
	FailedLogins         int             `json:"failed_logins"`
	SuccessfulLogins     int             `json:"successful_logins"`
	AccountLockouts      int             `json:"account_lockouts"`
	SuspiciousActivities int             `json:"suspicious_activities"`
	RateLimitHits        int             `json:"rate_limit_hits"`
	UniqueUsers          int             `json:"unique_users"`
	UniqueIPs            int             `json:"unique_ips"`
	CriticalEvents       []AuditLogEntry `json:"critical_events"`
}

// AuditMetadata holds open-ended context attached to audit entries.
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// MarshalJSON always emits an object, never null.
func (am AuditMetadata) MarshalJSON() ([]byte, error) {
	if am == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// UnmarshalJSON implements json.Unmarshaler
func (am *AuditMetadata) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	*am = AuditMetadata(m)
	return nil
}
