package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/store"
	"github.com/redis/go-redis/v9"
)

const defaultEndpoint = "default"

// DefaultEndpointLimits is the static endpoint table.
func DefaultEndpointLimits() map[string]models.RateLimitRule {
	return map[string]models.RateLimitRule{
		"auth:login":          {Limit: 5, Window: 300 * time.Second},
		"auth:register":       {Limit: 3, Window: 3600 * time.Second},
		"auth:refresh":        {Limit: 10, Window: 60 * time.Second},
		"auth:reset_password": {Limit: 3, Window: 3600 * time.Second},
		"auth:verify_email":   {Limit: 5, Window: 300 * time.Second},
		"api:general":         {Limit: 100, Window: 60 * time.Second},
		"upload:file":         {Limit: 10, Window: 300 * time.Second},
	}
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	Strategy      models.RateLimitStrategy
	DefaultLimit  int
	DefaultWindow time.Duration
	Endpoints     map[string]models.RateLimitRule
}

// RateLimitService implements admission control per identifier and endpoint
type RateLimitService struct {
	kv       KeyValueStore
	strategy limiterStrategy
	config   RateLimitConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewRateLimitService creates a new RateLimitService. The strategy is fixed
// for the lifetime of the service.
func NewRateLimitService(kv KeyValueStore, config RateLimitConfig, logger *slog.Logger) (*RateLimitService, error) {
	if config.Strategy == "" {
		config.Strategy = models.RateLimitSlidingWindow
	}
	strategy, err := newLimiterStrategy(config.Strategy, kv)
	if err != nil {
		return nil, err
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 20
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = 60 * time.Second
	}
	if config.Endpoints == nil {
		config.Endpoints = DefaultEndpointLimits()
	}

	return &RateLimitService{
		kv:       kv,
		strategy: strategy,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *RateLimitService) WithClock(now func() time.Time) *RateLimitService {
	s.now = now
	return s
}

// Strategy returns the configured algorithm.
func (s *RateLimitService) Strategy() models.RateLimitStrategy {
	return s.strategy.Name()
}

// Rule resolves the {limit, window} for an endpoint. Non-zero fields of
// override take precedence over the endpoint table.
func (s *RateLimitService) Rule(endpoint string, override *models.RateLimitRule) models.RateLimitRule {
	rule := models.RateLimitRule{Limit: s.config.DefaultLimit, Window: s.config.DefaultWindow}
	if r, ok := s.config.Endpoints[endpoint]; ok {
		rule = r
	}
	if override != nil {
		if override.Limit > 0 {
			rule.Limit = override.Limit
		}
		if override.Window > 0 {
			rule.Window = override.Window
		}
	}
	return rule
}

// CheckRateLimit consumes one unit for identifier on endpoint.
func (s *RateLimitService) CheckRateLimit(ctx context.Context, identifier, endpoint string) (*models.RateLimitResult, error) {
	return s.CheckRateLimitWithRule(ctx, identifier, endpoint, nil)
}

// CheckRateLimitWithRule is CheckRateLimit with an explicit limit/window override.
func (s *RateLimitService) CheckRateLimitWithRule(ctx context.Context, identifier, endpoint string, override *models.RateLimitRule) (*models.RateLimitResult, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: rate limit identifier is required", models.ErrBadRequest)
	}
	endpoint = normalizeEndpoint(endpoint)
	rule := s.Rule(endpoint, override)
	now := s.now()

	result, err := s.strategy.Check(ctx, identifier, endpoint, rule, now)
	if err != nil {
		s.logger.Error("rate limit check failed",
			slog.String("identifier", identifier),
			slog.String("endpoint", endpoint),
			slog.String("strategy", string(s.strategy.Name())),
			slog.Any("error", err))
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "fail_open").Inc()
		// Fail open for availability - store errors shouldn't block legitimate users
		return &models.RateLimitResult{
			Allowed:   true,
			Limit:     rule.Limit,
			Remaining: rule.Limit,
			ResetTime: now.Add(rule.Window),
		}, nil
	}

	if result.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "allowed").Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(endpoint, "denied").Inc()
		s.logger.Warn("rate limit exceeded",
			slog.String("identifier", identifier),
			slog.String("endpoint", endpoint),
			slog.Int("limit", rule.Limit),
			slog.Duration("window", rule.Window))
	}
	return result, nil
}

// GetRateLimitStatus reports current usage without consuming quota.
func (s *RateLimitService) GetRateLimitStatus(ctx context.Context, identifier, endpoint string) (*models.RateLimitStatus, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: rate limit identifier is required", models.ErrBadRequest)
	}
	endpoint = normalizeEndpoint(endpoint)
	status, err := s.strategy.Status(ctx, identifier, endpoint, s.Rule(endpoint, nil), s.now())
	if err != nil {
		return nil, fmt.Errorf("get rate limit status: %w", err)
	}
	return status, nil
}

// ResetRateLimit deletes every counter for identifier across all three
// strategies' key layouts and all endpoints.
func (s *RateLimitService) ResetRateLimit(ctx context.Context, identifier string) (int64, error) {
	if identifier == "" {
		return 0, fmt.Errorf("%w: rate limit identifier is required", models.ErrBadRequest)
	}
	escaped := store.EscapePattern(keyIdentifier(identifier))

	var total int64
	for _, prefix := range []string{"sliding", "fixed", "bucket"} {
		n, err := s.kv.DeletePattern(ctx, prefix+":"+escaped+":*")
		total += n
		if err != nil {
			return total, fmt.Errorf("reset rate limit: %w", err)
		}
	}

	s.logger.Info("rate limit reset",
		slog.String("identifier", identifier),
		slog.Int64("keys_deleted", total))
	return total, nil
}

func counterKey(name, identifier string) string {
	return fmt.Sprintf("counter:%s:%s", name, identifier)
}

// IncrementCustomCounter adds amount to a named counter. A positive ttl is
// applied on every increment.
func (s *RateLimitService) IncrementCustomCounter(ctx context.Context, name, identifier string, amount int64, ttl time.Duration) (int64, error) {
	key := counterKey(name, identifier)

	var incr *redis.IntCmd
	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, amount)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return incr.Val(), nil
}

// GetCounterValue reads a named counter; a missing counter is zero.
func (s *RateLimitService) GetCounterValue(ctx context.Context, name, identifier string) (int64, error) {
	v, err := s.kv.Get(ctx, counterKey(name, identifier)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", name, err)
	}
	return v, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return defaultEndpoint
	}
	return endpoint
}
