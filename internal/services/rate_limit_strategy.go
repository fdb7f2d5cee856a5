package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/redis/go-redis/v9"
)

// limiterStrategy is one admission algorithm. Implementations keep all state
// in the store and mutate it only through atomic pipelines or scripts.
type limiterStrategy interface {
	Name() models.RateLimitStrategy
	Check(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitResult, error)
	Status(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitStatus, error)
}

func newLimiterStrategy(name models.RateLimitStrategy, kv KeyValueStore) (limiterStrategy, error) {
	switch name {
	case models.RateLimitSlidingWindow:
		return &slidingWindow{kv: kv}, nil
	case models.RateLimitFixedWindow:
		return &fixedWindow{kv: kv}, nil
	case models.RateLimitTokenBucket:
		return &tokenBucket{kv: kv}, nil
	}
	return nil, fmt.Errorf("%w: unknown rate limit strategy %q", models.ErrBadRequest, name)
}

// slidingWindow keeps one sorted set of request timestamps per identifier
// and endpoint, scored in microseconds.
type slidingWindow struct {
	kv KeyValueStore
}

var identifierEscaper = strings.NewReplacer("%", "%25", "}", "%7D")

// keyIdentifier wraps identifier in braces so no identifier's keys share a
// prefix with another's, e.g. ip:2001:db8::1 and ip:2001:db8::1:5.
func keyIdentifier(identifier string) string {
	return "{" + identifierEscaper.Replace(identifier) + "}"
}

func slidingKey(identifier, endpoint string) string {
	return fmt.Sprintf("sliding:%s:%s", keyIdentifier(identifier), endpoint)
}

func (s *slidingWindow) Name() models.RateLimitStrategy { return models.RateLimitSlidingWindow }

func (s *slidingWindow) Check(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitResult, error) {
	key := slidingKey(identifier, endpoint)
	nowScore := float64(now.UnixMicro())
	windowStart := strconv.FormatInt(now.Add(-rule.Window).UnixMicro(), 10)
	member := uniqueMember(now)

	var card *redis.IntCmd
	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+windowStart)
		pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		return nil, err
	}

	count := int(card.Val())
	result := &models.RateLimitResult{
		Limit:     rule.Limit,
		ResetTime: now.Add(rule.Window),
	}

	if count > rule.Limit {
		// The rejected request must not occupy a slot.
		if err := s.kv.ZRem(ctx, key, member).Err(); err != nil {
			return nil, err
		}
		retry := rule.Window
		result.RetryAfter = &retry
		return result, nil
	}

	result.Allowed = true
	result.Remaining = rule.Limit - count
	return result, nil
}

func (s *slidingWindow) Status(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitStatus, error) {
	key := slidingKey(identifier, endpoint)
	windowStart := now.Add(-rule.Window).UnixMicro()

	var (
		count  *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err := s.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.ZCount(ctx, key, strconv.FormatInt(windowStart, 10), "+inf")
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:   strconv.FormatInt(windowStart, 10),
			Max:   "+inf",
			Count: 1,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	reset := now
	if z := oldest.Val(); len(z) > 0 {
		reset = time.UnixMicro(int64(z[0].Score)).Add(rule.Window)
	}
	return newStatus(identifier, endpoint, s.Name(), rule, int(count.Val()), reset), nil
}

// fixedWindow counts requests in buckets aligned to the window length.
type fixedWindow struct {
	kv KeyValueStore
}

func fixedWindowStart(now time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return now.Unix() / secs * secs
}

func fixedKey(identifier, endpoint string, windowStart int64) string {
	return fmt.Sprintf("fixed:%s:%s:%d", keyIdentifier(identifier), endpoint, windowStart)
}

func (f *fixedWindow) Name() models.RateLimitStrategy { return models.RateLimitFixedWindow }

func (f *fixedWindow) Check(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitResult, error) {
	start := fixedWindowStart(now, rule.Window)
	key := fixedKey(identifier, endpoint, start)

	var incr *redis.IntCmd
	_, err := f.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rule.Window)
		return nil
	})
	if err != nil {
		return nil, err
	}

	count := int(incr.Val())
	reset := time.Unix(start, 0).Add(rule.Window)
	result := &models.RateLimitResult{
		Limit:     rule.Limit,
		ResetTime: reset,
	}
	if count > rule.Limit {
		retry := reset.Sub(now)
		result.RetryAfter = &retry
		return result, nil
	}

	result.Allowed = true
	result.Remaining = rule.Limit - count
	return result, nil
}

func (f *fixedWindow) Status(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitStatus, error) {
	start := fixedWindowStart(now, rule.Window)
	count, err := f.kv.Get(ctx, fixedKey(identifier, endpoint, start)).Int()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return newStatus(identifier, endpoint, f.Name(), rule, count, time.Unix(start, 0).Add(rule.Window)), nil
}

// tokenBucket refills linearly at limit/window tokens per millisecond. Refill
// and take run in one script so concurrent callers never double-spend.
type tokenBucket struct {
	kv KeyValueStore
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'updated')
local tokens = tonumber(state[1])
local updated = tonumber(state[2])
if tokens == nil or updated == nil then
  tokens = capacity
  updated = now
end

local elapsed = now - updated
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'updated', tostring(now))
redis.call('PEXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

func bucketKey(identifier, endpoint string) string {
	return fmt.Sprintf("bucket:%s:%s", keyIdentifier(identifier), endpoint)
}

func refillRate(rule models.RateLimitRule) float64 {
	ms := float64(rule.Window.Milliseconds())
	if ms <= 0 {
		ms = 1
	}
	return float64(rule.Limit) / ms
}

func (b *tokenBucket) Name() models.RateLimitStrategy { return models.RateLimitTokenBucket }

func (b *tokenBucket) Check(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitResult, error) {
	rate := refillRate(rule)
	ttl := (2 * rule.Window).Milliseconds()

	raw, err := tokenBucketScript.Run(ctx, b.kv, []string{bucketKey(identifier, endpoint)},
		rule.Limit, strconv.FormatFloat(rate, 'f', -1, 64), now.UnixMilli(), ttl).Slice()
	if err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("unexpected token bucket reply: %v", raw)
	}

	allowed, _ := raw[0].(int64)
	tokensStr, _ := raw[1].(string)
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token count %q: %w", tokensStr, err)
	}

	result := &models.RateLimitResult{
		Limit:     rule.Limit,
		Remaining: int(math.Floor(tokens)),
		ResetTime: now.Add(time.Duration((float64(rule.Limit)-tokens)/rate) * time.Millisecond),
	}
	if allowed == 1 {
		result.Allowed = true
		return result, nil
	}

	retry := time.Duration(math.Ceil((1-tokens)/rate)) * time.Millisecond
	result.RetryAfter = &retry
	return result, nil
}

func (b *tokenBucket) Status(ctx context.Context, identifier, endpoint string, rule models.RateLimitRule, now time.Time) (*models.RateLimitStatus, error) {
	vals, err := b.kv.HMGet(ctx, bucketKey(identifier, endpoint), "tokens", "updated").Result()
	if err != nil {
		return nil, err
	}

	tokens := float64(rule.Limit)
	if len(vals) == 2 && vals[0] != nil && vals[1] != nil {
		stored, errT := strconv.ParseFloat(fmt.Sprint(vals[0]), 64)
		updated, errU := strconv.ParseFloat(fmt.Sprint(vals[1]), 64)
		if errT == nil && errU == nil {
			elapsed := math.Max(0, float64(now.UnixMilli())-updated)
			tokens = math.Min(float64(rule.Limit), stored+elapsed*refillRate(rule))
		}
	}

	used := rule.Limit - int(math.Floor(tokens))
	reset := now.Add(time.Duration((float64(rule.Limit)-tokens)/refillRate(rule)) * time.Millisecond)
	return newStatus(identifier, endpoint, b.Name(), rule, used, reset), nil
}

func newStatus(identifier, endpoint string, strategy models.RateLimitStrategy, rule models.RateLimitRule, current int, reset time.Time) *models.RateLimitStatus {
	remaining := rule.Limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &models.RateLimitStatus{
		Identifier: identifier,
		Endpoint:   endpoint,
		Strategy:   strategy,
		Limit:      rule.Limit,
		Current:    current,
		Remaining:  remaining,
		Window:     rule.Window,
		ResetTime:  reset,
	}
}

// uniqueMember builds a sorted-set member that cannot collide between two
// requests landing in the same nanosecond.
func uniqueMember(now time.Time) string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(now.UnixNano(), 10) + "-" + hex.EncodeToString(b[:])
}
