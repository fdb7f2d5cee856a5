package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelay      time.Duration // Minimum time a failed attempt takes
	RandomDelay    time.Duration // Random jitter range added on top
	DelayOnSuccess bool          // If true, delay even on successful login
}

// TimingDelay pads authentication responses so that "unknown account",
// "wrong password" and "account locked" take about the same time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{
		config: config,
	}
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
// Uses crypto/rand instead of math/rand for security-sensitive operations
func cryptoRandIntn(max int64) (int64, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	randomValue := binary.BigEndian.Uint64(randomBytes)
	return int64(randomValue % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	var jitter time.Duration
	if td.config.RandomDelay > 0 {
		if n, err := cryptoRandIntn(int64(td.config.RandomDelay)); err == nil {
			jitter = time.Duration(n)
		}
	}
	return td.config.BaseDelay + jitter
}

// Wait applies the full delay for a failed operation.
func (td *TimingDelay) Wait(ctx context.Context, success bool) {
	td.WaitFrom(ctx, time.Now(), success)
}

// WaitFrom applies delay relative to a start time, ensuring total elapsed
// time reaches the target. It returns early if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, startTime time.Time, success bool) {
	if success && !td.config.DelayOnSuccess {
		return
	}

	remaining := td.target() - time.Since(startTime)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
