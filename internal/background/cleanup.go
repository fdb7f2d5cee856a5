package background

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredFileCleaner removes quarantine records past their retention.
// *filesecurity.QuarantineManager satisfies it.
type ExpiredFileCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// QuarantineSweeper periodically removes expired quarantined files
type QuarantineSweeper struct {
	cleaner  ExpiredFileCleaner
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewQuarantineSweeper creates a sweeper running every interval
func NewQuarantineSweeper(cleaner ExpiredFileCleaner, logger *slog.Logger, interval time.Duration) *QuarantineSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &QuarantineSweeper{
		cleaner:  cleaner,
		logger:   logger,
		interval: interval,
		timeout:  5 * time.Minute,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until Stop is
// called or ctx is cancelled. It blocks.
func (s *QuarantineSweeper) Start(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("quarantine sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("quarantine sweeper context cancelled")
			return
		}
	}
}

func (s *QuarantineSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	removed, err := s.cleaner.CleanupExpired(sweepCtx)
	if err != nil {
		s.logger.Error("failed to sweep expired quarantine records", slog.Any("error", err))
		return
	}
	if removed > 0 {
		s.logger.Info("expired quarantine records removed", slog.Int("removed", removed))
	}
}

// Stop signals the sweeper to stop and waits for the current sweep to end.
func (s *QuarantineSweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
