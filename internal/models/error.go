package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Admission errors
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Infrastructure errors
	ErrStoreUnavailable  = errors.New("key-value store unavailable")
	ErrScanIndeterminate = errors.New("scan result indeterminate")

	// Quarantine errors
	ErrQuarantineNotFound     = errors.New("quarantine record not found")
	ErrInvalidQuarantineState = errors.New("quarantine record is not in a releasable state")
	ErrQuarantineFull         = errors.New("quarantine storage limit reached")
	ErrFileTooLarge           = errors.New("file exceeds maximum size")
)
