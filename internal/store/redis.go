package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/config"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Client is the key-value store shared by every security component. It
// embeds the go-redis client so callers use pipelines, sorted sets and
// streams directly.
type Client struct {
	*redis.Client
	logger *slog.Logger
}

const connectAttempts = 5

// NewClient dials Redis and pings it, retrying with exponential backoff.
func NewClient(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
	})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	ping := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed",
				slog.Int("attempt", attempt),
				slog.String("addr", cfg.Addr),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	}

	if err := backoff.Retry(ping, backoff.WithContext(backoff.WithMaxRetries(bo, connectAttempts-1), ctx)); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("redis connection established",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Int("pool_size", cfg.PoolSize),
	)

	return &Client{Client: rdb, logger: logger}, nil
}

// NewFromRedis wraps an existing go-redis client.
func NewFromRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{Client: rdb, logger: logger}
}

func (c *Client) Close() error {
	c.logger.Info("closing redis connection")
	return c.Client.Close()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a glob pattern using SCAN, so
// the server is never blocked by KEYS. It returns the number deleted.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	// Collect first: deleting while the cursor is live lets some servers
	// rehash and skip keys. SCAN may also repeat a key.
	seen := make(map[string]struct{})
	var keys []string
	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", pattern, err)
	}

	var deleted int64
	for start := 0; start < len(keys); start += 100 {
		n, err := c.Del(ctx, keys[start:min(start+100, len(keys))]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", pattern, err)
		}
		deleted += n
	}
	return deleted, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// EscapePattern quotes glob metacharacters so an identifier can be embedded
// in a SCAN pattern literally.
func EscapePattern(s string) string {
	return globEscaper.Replace(s)
}

// MapRedisError converts go-redis sentinel errors to domain errors.
func MapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
