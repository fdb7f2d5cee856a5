package models

import "time"

// LockoutReason explains why an identifier was locked.
type LockoutReason string

const (
	LockoutReasonFailedAttempts     LockoutReason = "failed_login_attempts"
	LockoutReasonBruteForce         LockoutReason = "brute_force_detected"
	LockoutReasonSuspiciousActivity LockoutReason = "suspicious_activity"
	LockoutReasonAdministrative     LockoutReason = "administrative_lock"
	LockoutReasonPasswordResetAbuse LockoutReason = "password_reset_abuse"
)

// Valid reports whether r is a known reason.
func (r LockoutReason) Valid() bool {
	switch r {
	case LockoutReasonFailedAttempts, LockoutReasonBruteForce, LockoutReasonSuspiciousActivity,
		LockoutReasonAdministrative, LockoutReasonPasswordResetAbuse:
		return true
	}
	return false
}

// Severity is shared by lockouts, validation findings and threat detections.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 0 (low) to 3 (critical); unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// AccountLockoutInfo is a view over persisted lockout state.
type AccountLockoutInfo struct {
	Identifier        string        `json:"identifier"`
	IsLocked          bool          `json:"is_locked"`
	FailedAttempts    int           `json:"failed_attempts"`
	LockoutUntil      *time.Time    `json:"lockout_until,omitempty"`
	Reason            LockoutReason `json:"reason,omitempty"`
	Severity          Severity      `json:"severity,omitempty"`
	RemainingAttempts int           `json:"remaining_attempts"`
}

// LoginAttempt is one entry of the per-identifier failure history.
type LoginAttempt struct {
	Timestamp time.Time              `json:"timestamp"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// UnlockEvent records an administrative unlock.
type UnlockEvent struct {
	Timestamp time.Time `json:"timestamp"`
	AdminUser string    `json:"admin_user,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// BruteForceStats summarizes failed attempts originating from one IP.
type BruteForceStats struct {
	IPAddress        string `json:"ip_address"`
	Attempts         int    `json:"attempts"`
	AccountsTargeted int    `json:"accounts_targeted"`
	Threshold        int    `json:"threshold"`
	Flagged          bool   `json:"flagged"`
}
