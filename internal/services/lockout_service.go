package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkglogger "github.com/basanta2029/slidegenie-backend-sub001/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// AuditRecorder is implemented by AuditService. LogEvent never fails.
type AuditRecorder interface {
	LogEvent(ctx context.Context, params models.AuditEventParams) string
}

// AdminNotifier delivers out-of-band alerts to administrators.
type AdminNotifier interface {
	NotifyAdmins(ctx context.Context, subject, body string) error
}

// DefaultEscalation is the progressive lockout table, indexed by lockout
// number (1st, 2nd, ...). The last entry applies to every later lockout.
var DefaultEscalation = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
	120 * time.Minute,
	360 * time.Minute,
	720 * time.Minute,
	1440 * time.Minute,
}

const (
	historyLimit      = 100
	historyTTL        = 7 * 24 * time.Hour
	lockoutCountTTL   = 30 * 24 * time.Hour
	unlockLogTTL      = 30 * 24 * time.Hour
	lockoutTTLPadding = time.Hour
)

// LockoutConfig holds configuration for account lockout behavior
type LockoutConfig struct {
	MaxAttempts         int
	AttemptWindow       time.Duration
	BaseLockoutDuration time.Duration
	BruteForceThreshold int
	Progressive         bool
	Escalation          []time.Duration
}

// LockoutService converts repeated authentication failures into temporary
// denial. All state lives in the store keyed by identifier.
type LockoutService struct {
	kv       KeyValueStore
	config   LockoutConfig
	audit    AuditRecorder
	notifier AdminNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewLockoutService creates a new LockoutService. audit and notifier may be nil.
func NewLockoutService(kv KeyValueStore, config LockoutConfig, audit AuditRecorder, notifier AdminNotifier, logger *slog.Logger) *LockoutService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = time.Hour
	}
	if config.BaseLockoutDuration <= 0 {
		config.BaseLockoutDuration = 30 * time.Minute
	}
	if config.BruteForceThreshold <= 0 {
		config.BruteForceThreshold = 50
	}
	if len(config.Escalation) == 0 {
		config.Escalation = DefaultEscalation
	}

	return &LockoutService{
		kv:       kv,
		config:   config,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

func attemptsKey(id string) string     { return "attempts:" + id }
func lockoutKey(id string) string      { return "lockout:" + id }
func lockoutCountKey(id string) string { return "lockout_count:" + id }
func historyKey(id string) string      { return "history:" + id }
func unlockLogKey(id string) string    { return "unlock_log:" + id }
func ipAttemptsKey(ip string) string   { return "ip_attempts:" + ip }
func ipAccountsKey(ip string) string   { return "ip_accounts:" + ip }

// RecordFailedAttempt increments the failure counter and history for
// identifier and locks the account once MaxAttempts is reached. Attempts
// from one IP above BruteForceThreshold per hour lock regardless of count.
func (s *LockoutService) RecordFailedAttempt(ctx context.Context, identifier, ipAddress, userAgent string, attemptCtx map[string]interface{}) (*models.AccountLockoutInfo, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: lockout identifier is required", models.ErrBadRequest)
	}

	entry, err := json.Marshal(models.LoginAttempt{
		Timestamp: s.now().UTC(),
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Context:   attemptCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("encode attempt: %w", err)
	}

	var attempts, ipAttempts *redis.IntCmd
	_, err = s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		attempts = pipe.Incr(ctx, attemptsKey(identifier))
		pipe.Expire(ctx, attemptsKey(identifier), s.config.AttemptWindow)
		pipe.LPush(ctx, historyKey(identifier), entry)
		pipe.LTrim(ctx, historyKey(identifier), 0, historyLimit-1)
		pipe.Expire(ctx, historyKey(identifier), historyTTL)
		if ipAddress != "" {
			ipAttempts = pipe.Incr(ctx, ipAttemptsKey(ipAddress))
			pipe.Expire(ctx, ipAttemptsKey(ipAddress), time.Hour)
			pipe.SAdd(ctx, ipAccountsKey(ipAddress), identifier)
			pipe.Expire(ctx, ipAccountsKey(ipAddress), time.Hour)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record failed attempt",
			slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
			slog.Any("error", err))
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}

	failed := int(attempts.Val())

	if failed >= s.config.MaxAttempts {
		info, err := s.applyLockout(ctx, identifier, models.LockoutReasonFailedAttempts, failed, models.SeverityMedium, nil, "", ipAddress)
		if err != nil {
			return nil, err
		}
		// The lockout record is the source of truth from here on
		if err := s.kv.Del(ctx, attemptsKey(identifier)).Err(); err != nil {
			s.logger.Error("failed to reset attempt counter",
				slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
				slog.Any("error", err))
		}
		return info, nil
	}

	if ipAttempts != nil && int(ipAttempts.Val()) > s.config.BruteForceThreshold {
		s.logger.Warn("brute force detected",
			slog.String("ip_address", ipAddress),
			slog.Int64("ip_attempts", ipAttempts.Val()))
		s.recordAudit(ctx, models.AuditEventParams{
			Event:     models.EventBruteForceDetected,
			UserID:    identifier,
			IPAddress: ipAddress,
			UserAgent: userAgent,
			Details: map[string]interface{}{
				"ip_attempts": ipAttempts.Val(),
				"threshold":   s.config.BruteForceThreshold,
			},
		})
		s.notify(ctx, "Brute force detected",
			fmt.Sprintf("%d failed authentication attempts from %s within one hour.", ipAttempts.Val(), ipAddress))
		return s.applyLockout(ctx, identifier, models.LockoutReasonBruteForce, failed, models.SeverityHigh, nil, "", ipAddress)
	}

	remaining := s.config.MaxAttempts - failed
	if remaining < 0 {
		remaining = 0
	}
	return &models.AccountLockoutInfo{
		Identifier:        identifier,
		FailedAttempts:    failed,
		RemainingAttempts: remaining,
	}, nil
}

// CheckLockoutStatus reads the lockout record, clearing it if expired.
// Store errors are returned so callers can fail closed.
func (s *LockoutService) CheckLockoutStatus(ctx context.Context, identifier string) (*models.AccountLockoutInfo, error) {
	var (
		record   *redis.MapStringStringCmd
		attempts *redis.StringCmd
	)
	_, err := s.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		record = pipe.HGetAll(ctx, lockoutKey(identifier))
		attempts = pipe.Get(ctx, attemptsKey(identifier))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("check lockout status: %w", err)
	}

	failed, _ := strconv.Atoi(attempts.Val())
	fields := record.Val()

	if len(fields) == 0 || fields["reason"] == "" {
		remaining := s.config.MaxAttempts - failed
		if remaining < 0 {
			remaining = 0
		}
		return &models.AccountLockoutInfo{
			Identifier:        identifier,
			FailedAttempts:    failed,
			RemainingAttempts: remaining,
		}, nil
	}

	info := &models.AccountLockoutInfo{
		Identifier:     identifier,
		IsLocked:       true,
		FailedAttempts: failed,
		Reason:         models.LockoutReason(fields["reason"]),
		Severity:       models.Severity(fields["severity"]),
	}
	if lockedFailed, err := strconv.Atoi(fields["failed_attempts"]); err == nil && lockedFailed > failed {
		info.FailedAttempts = lockedFailed
	}

	if until := fields["locked_until"]; until != "" {
		t, err := time.Parse(time.RFC3339Nano, until)
		if err != nil {
			return nil, fmt.Errorf("parse lockout expiry %q: %w", until, err)
		}
		if !s.now().Before(t) {
			if err := s.kv.Del(ctx, lockoutKey(identifier), attemptsKey(identifier)).Err(); err != nil {
				return nil, fmt.Errorf("clear expired lockout: %w", err)
			}
			return &models.AccountLockoutInfo{
				Identifier:        identifier,
				RemainingAttempts: s.config.MaxAttempts,
			}, nil
		}
		info.LockoutUntil = &t
	}

	return info, nil
}

// ClearFailedAttempts is called on successful authentication. It never
// touches an active lockout record.
func (s *LockoutService) ClearFailedAttempts(ctx context.Context, identifier string) error {
	if err := s.kv.Del(ctx, attemptsKey(identifier)).Err(); err != nil {
		return fmt.Errorf("clear failed attempts: %w", err)
	}
	return nil
}

// ManualLockoutRequest describes an administrative lock. Duration zero means
// indefinite; an empty Severity defaults to HIGH.
type ManualLockoutRequest struct {
	Reason    models.LockoutReason
	Duration  time.Duration
	Severity  models.Severity
	AdminUser string
}

// ManualLockout locks identifier without going through attempt counting.
func (s *LockoutService) ManualLockout(ctx context.Context, identifier string, req ManualLockoutRequest) (*models.AccountLockoutInfo, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: lockout identifier is required", models.ErrBadRequest)
	}
	if req.Reason == "" {
		req.Reason = models.LockoutReasonAdministrative
	}
	if !req.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown lockout reason %q", models.ErrBadRequest, req.Reason)
	}
	if req.Severity == "" {
		req.Severity = models.SeverityHigh
	}
	duration := req.Duration
	return s.applyLockout(ctx, identifier, req.Reason, 0, req.Severity, &duration, req.AdminUser, "")
}

// UnlockAccount clears the lockout record and failure counter. The lockout
// count is kept so the next lockout still escalates.
func (s *LockoutService) UnlockAccount(ctx context.Context, identifier, adminUser, reason string) error {
	var entry []byte
	if adminUser != "" {
		var err error
		entry, err = json.Marshal(models.UnlockEvent{Timestamp: s.now().UTC(), AdminUser: adminUser, Reason: reason})
		if err != nil {
			return fmt.Errorf("encode unlock event: %w", err)
		}
	}

	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, lockoutKey(identifier), attemptsKey(identifier))
		if entry != nil {
			pipe.LPush(ctx, unlockLogKey(identifier), entry)
			pipe.Expire(ctx, unlockLogKey(identifier), unlockLogTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	s.logger.Info("account unlocked",
		slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
		slog.String("admin_user", adminUser))
	s.recordAudit(ctx, models.AuditEventParams{
		Event:  models.EventAccountUnlocked,
		UserID: identifier,
		Details: map[string]interface{}{
			"admin_user": adminUser,
			"reason":     reason,
		},
	})
	return nil
}

// GetLockoutHistory returns the most recent failed attempts, newest first.
func (s *LockoutService) GetLockoutHistory(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error) {
	if limit <= 0 || limit > historyLimit {
		limit = 10
	}
	raw, err := s.kv.LRange(ctx, historyKey(identifier), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get lockout history: %w", err)
	}

	history := make([]models.LoginAttempt, 0, len(raw))
	for _, item := range raw {
		var a models.LoginAttempt
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		history = append(history, a)
	}
	return history, nil
}

// GetUnlockLog returns administrative unlocks, newest first.
func (s *LockoutService) GetUnlockLog(ctx context.Context, identifier string) ([]models.UnlockEvent, error) {
	raw, err := s.kv.LRange(ctx, unlockLogKey(identifier), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get unlock log: %w", err)
	}

	events := make([]models.UnlockEvent, 0, len(raw))
	for _, item := range raw {
		var e models.UnlockEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// GetBruteForceStats reports failed attempts from one IP in the last hour.
func (s *LockoutService) GetBruteForceStats(ctx context.Context, ipAddress string) (*models.BruteForceStats, error) {
	var (
		attempts *redis.StringCmd
		accounts *redis.IntCmd
	)
	_, err := s.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		attempts = pipe.Get(ctx, ipAttemptsKey(ipAddress))
		accounts = pipe.SCard(ctx, ipAccountsKey(ipAddress))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get brute force stats: %w", err)
	}

	n, _ := strconv.Atoi(attempts.Val())
	return &models.BruteForceStats{
		IPAddress:        ipAddress,
		Attempts:         n,
		AccountsTargeted: int(accounts.Val()),
		Threshold:        s.config.BruteForceThreshold,
		Flagged:          n > s.config.BruteForceThreshold,
	}, nil
}

// lockoutDuration picks the duration for a new lockout. Only failed-attempt
// lockouts escalate; the lockout count is bumped atomically.
func (s *LockoutService) lockoutDuration(ctx context.Context, identifier string, reason models.LockoutReason) (time.Duration, error) {
	if !s.config.Progressive || reason != models.LockoutReasonFailedAttempts {
		return s.config.BaseLockoutDuration, nil
	}

	var count *redis.IntCmd
	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, lockoutCountKey(identifier))
		pipe.Expire(ctx, lockoutCountKey(identifier), lockoutCountTTL)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment lockout count: %w", err)
	}

	idx := int(count.Val()) - 1
	if idx >= len(s.config.Escalation) {
		idx = len(s.config.Escalation) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return s.config.Escalation[idx], nil
}

func (s *LockoutService) applyLockout(ctx context.Context, identifier string, reason models.LockoutReason, failed int, severity models.Severity, duration *time.Duration, adminUser, ipAddress string) (*models.AccountLockoutInfo, error) {
	var d time.Duration
	if duration != nil {
		d = *duration
	} else {
		var err error
		if d, err = s.lockoutDuration(ctx, identifier, reason); err != nil {
			return nil, err
		}
	}

	now := s.now()
	fields := map[string]interface{}{
		"locked_until":    "",
		"reason":          string(reason),
		"severity":        string(severity),
		"failed_attempts": failed,
		"locked_at":       now.UTC().Format(time.RFC3339Nano),
		"admin_user":      adminUser,
	}

	info := &models.AccountLockoutInfo{
		Identifier:     identifier,
		IsLocked:       true,
		FailedAttempts: failed,
		Reason:         reason,
		Severity:       severity,
	}
	if d > 0 {
		until := now.Add(d)
		fields["locked_until"] = until.UTC().Format(time.RFC3339Nano)
		info.LockoutUntil = &until
	}

	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, lockoutKey(identifier))
		pipe.HSet(ctx, lockoutKey(identifier), fields)
		if d > 0 {
			pipe.Expire(ctx, lockoutKey(identifier), d+lockoutTTLPadding)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to store lockout",
			slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
			slog.Any("error", err))
		return nil, fmt.Errorf("apply lockout: %w", err)
	}

	metrics.LockoutsTotal.WithLabelValues(string(reason)).Inc()
	s.logger.Warn("account locked",
		slog.String("identifier", pkglogger.MaskIdentifier(identifier)),
		slog.String("reason", string(reason)),
		slog.String("severity", string(severity)),
		slog.Duration("duration", d))

	details := map[string]interface{}{
		"reason":          string(reason),
		"severity":        string(severity),
		"failed_attempts": failed,
		"duration_sec":    int64(d / time.Second),
	}
	if adminUser != "" {
		details["admin_user"] = adminUser
	}
	s.recordAudit(ctx, models.AuditEventParams{
		Event:     models.EventAccountLocked,
		UserID:    identifier,
		IPAddress: ipAddress,
		Details:   details,
	})

	return info, nil
}

func (s *LockoutService) recordAudit(ctx context.Context, params models.AuditEventParams) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, params)
	}
}

func (s *LockoutService) notify(ctx context.Context, subject, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAdmins(ctx, subject, body); err != nil {
		s.logger.Error("failed to notify admins", slog.String("subject", subject), slog.Any("error", err))
	}
}
