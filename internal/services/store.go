package services

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// KeyValueStore is the subset of the store adapter the security services
// depend on. *store.Client satisfies it.
type KeyValueStore interface {
	redis.Cmdable
	Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}
