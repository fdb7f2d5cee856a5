package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkglogger "github.com/basanta2029/slidegenie-backend-sub001/pkg/logger"
)

// Delayer pads a response up to a target duration measured from start.
// *auth.TimingDelay satisfies it.
type Delayer interface {
	WaitFrom(ctx context.Context, start time.Time, success bool)
}

// LoginRequest describes one authentication attempt.
type LoginRequest struct {
	Identifier string
	IPAddress  string
	UserAgent  string
	SessionID  string
	RequestID  string
}

// CredentialVerifier checks the credentials for an attempt. It returns
// models.ErrInvalidCredentials for a wrong password or unknown account;
// any other error is treated as an infrastructure failure.
type CredentialVerifier func(ctx context.Context) error

// LoginGuard enforces account lockout in front of a credential check.
type LoginGuard struct {
	lockout *LockoutService
	audit   AuditRecorder
	delay   Delayer
	logger  *slog.Logger
}

// NewLoginGuard creates a new LoginGuard. audit and delay may be nil.
func NewLoginGuard(lockout *LockoutService, audit AuditRecorder, delay Delayer, logger *slog.Logger) *LoginGuard {
	return &LoginGuard{
		lockout: lockout,
		audit:   audit,
		delay:   delay,
		logger:  logger,
	}
}

// Authenticate rejects locked accounts without calling verify, and fails
// closed when the lockout status cannot be read. Failures are counted and
// padded to a uniform duration; success clears the failure counter.
func (g *LoginGuard) Authenticate(ctx context.Context, req LoginRequest, verify CredentialVerifier) (*models.AccountLockoutInfo, error) {
	start := time.Now()

	status, err := g.lockout.CheckLockoutStatus(ctx, req.Identifier)
	if err != nil {
		g.logger.Error("lockout status unavailable, rejecting login",
			slog.String("identifier", pkglogger.MaskIdentifier(req.Identifier)),
			slog.Any("error", err))
		g.wait(ctx, start, false)
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if status.IsLocked {
		g.logFailure(ctx, req, "account_locked", status)
		g.wait(ctx, start, false)
		return status, models.ErrAccountLocked
	}

	if err := verify(ctx); err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) {
			g.wait(ctx, start, false)
			return nil, fmt.Errorf("verify credentials: %w", err)
		}

		info, recErr := g.lockout.RecordFailedAttempt(ctx, req.Identifier, req.IPAddress, req.UserAgent, map[string]interface{}{
			"session_id": req.SessionID,
			"request_id": req.RequestID,
		})
		if recErr != nil {
			g.logger.Error("failed to record login failure",
				slog.String("identifier", pkglogger.MaskIdentifier(req.Identifier)),
				slog.Any("error", recErr))
			info = status
		}

		g.logFailure(ctx, req, "invalid_credentials", info)
		g.wait(ctx, start, false)
		if info.IsLocked {
			return info, models.ErrAccountLocked
		}
		return info, models.ErrInvalidCredentials
	}

	if err := g.lockout.ClearFailedAttempts(ctx, req.Identifier); err != nil {
		g.logger.Error("failed to clear failed attempts",
			slog.String("identifier", pkglogger.MaskIdentifier(req.Identifier)),
			slog.Any("error", err))
	}

	if g.audit != nil {
		g.audit.LogEvent(ctx, models.AuditEventParams{
			Event:     models.EventLoginSuccess,
			UserID:    req.Identifier,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			SessionID: req.SessionID,
			RequestID: req.RequestID,
		})
	}
	g.wait(ctx, start, true)

	return &models.AccountLockoutInfo{
		Identifier:        req.Identifier,
		RemainingAttempts: g.lockout.config.MaxAttempts,
	}, nil
}

func (g *LoginGuard) logFailure(ctx context.Context, req LoginRequest, reason string, info *models.AccountLockoutInfo) {
	if g.audit == nil {
		return
	}
	details := map[string]interface{}{"reason": reason}
	if info != nil {
		details["failed_attempts"] = info.FailedAttempts
		details["remaining_attempts"] = info.RemainingAttempts
		details["locked"] = info.IsLocked
	}
	g.audit.LogEvent(ctx, models.AuditEventParams{
		Event:     models.EventLoginFailure,
		UserID:    req.Identifier,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Details:   details,
	})
}

func (g *LoginGuard) wait(ctx context.Context, start time.Time, success bool) {
	if g.delay != nil {
		g.delay.WaitFrom(ctx, start, success)
	}
}
