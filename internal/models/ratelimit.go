package models

import "time"

// RateLimitStrategy selects the admission algorithm a limiter is built with.
type RateLimitStrategy string

const (
	RateLimitSlidingWindow RateLimitStrategy = "sliding_window"
	RateLimitFixedWindow   RateLimitStrategy = "fixed_window"
	RateLimitTokenBucket   RateLimitStrategy = "token_bucket"
)

// Valid reports whether s is a known strategy.
func (s RateLimitStrategy) Valid() bool {
	switch s {
	case RateLimitSlidingWindow, RateLimitFixedWindow, RateLimitTokenBucket:
		return true
	}
	return false
}

// RateLimitRule is a {limit, window} pair for one logical endpoint.
type RateLimitRule struct {
	Limit  int           `json:"limit"`
	Window time.Duration `json:"window"`
}

// RateLimitResult is computed per check and never persisted.
type RateLimitResult struct {
	Allowed    bool           `json:"allowed"`
	Limit      int            `json:"limit"`
	Remaining  int            `json:"remaining"`
	ResetTime  time.Time      `json:"reset_time"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
}

// RateLimitStatus is the read-only view returned to admins.
type RateLimitStatus struct {
	Identifier string            `json:"identifier"`
	Endpoint   string            `json:"endpoint"`
	Strategy   RateLimitStrategy `json:"strategy"`
	Limit      int               `json:"limit"`
	Current    int               `json:"current"`
	Remaining  int               `json:"remaining"`
	Window     time.Duration     `json:"window"`
	ResetTime  time.Time         `json:"reset_time"`
}
