package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRateLimiter(t *testing.T, strategy models.RateLimitStrategy) (*services.RateLimitService, *testClock) {
	t.Helper()
	kv, _ := newTestStore(t)
	svc, err := services.NewRateLimitService(kv, services.RateLimitConfig{Strategy: strategy}, newTestLogger())
	require.NoError(t, err)
	clock := newTestClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc.WithClock(clock.Now)
	return svc, clock
}

func TestRateLimitServiceSlidingWindow_AdmitsExactlyLimit(t *testing.T) {
	svc, clock := newRateLimiter(t, models.RateLimitSlidingWindow)
	ctx := context.Background()

	// auth:login allows 5 per 300s
	prevRemaining := 5
	for i := 0; i < 5; i++ {
		res, err := svc.CheckRateLimit(ctx, "user@example.com", "auth:login")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Less(t, res.Remaining, prevRemaining)
		prevRemaining = res.Remaining
		clock.Advance(time.Second)
	}
	assert.Equal(t, 0, prevRemaining)

	res, err := svc.CheckRateLimit(ctx, "user@example.com", "auth:login")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.RetryAfter)
	assert.Equal(t, 300*time.Second, *res.RetryAfter)

	// A denied request must not consume a slot, so once the window slides
	// past the first admitted request exactly one more is allowed.
	clock.Advance(296 * time.Second)
	res, err = svc.CheckRateLimit(ctx, "user@example.com", "auth:login")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	clock.Advance(301 * time.Second)
	res, err = svc.CheckRateLimit(ctx, "user@example.com", "auth:login")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestRateLimitService_EndpointIsolation(t *testing.T) {
	for _, strategy := range []models.RateLimitStrategy{
		models.RateLimitSlidingWindow,
		models.RateLimitFixedWindow,
		models.RateLimitTokenBucket,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			svc, _ := newRateLimiter(t, strategy)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				res, err := svc.CheckRateLimit(ctx, "ip:10.0.0.1", "auth:login")
				require.NoError(t, err)
				require.True(t, res.Allowed)
			}
			res, err := svc.CheckRateLimit(ctx, "ip:10.0.0.1", "auth:login")
			require.NoError(t, err)
			assert.False(t, res.Allowed)

			res, err = svc.CheckRateLimit(ctx, "ip:10.0.0.1", "auth:register")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 2, res.Remaining)

			res, err = svc.CheckRateLimit(ctx, "ip:10.0.0.1", "api:general")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 99, res.Remaining)
		})
	}
}

func TestRateLimitService_OverrideAndDefault(t *testing.T) {
	svc, _ := newRateLimiter(t, models.RateLimitSlidingWindow)
	ctx := context.Background()

	res, err := svc.CheckRateLimitWithRule(ctx, "user-1", "export", &models.RateLimitRule{Limit: 2, Window: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, 1, res.Remaining)

	res, err = svc.CheckRateLimit(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, 20, res.Limit)

	rule := svc.Rule("auth:login", &models.RateLimitRule{Window: time.Minute})
	assert.Equal(t, 5, rule.Limit)
	assert.Equal(t, time.Minute, rule.Window)
}

func TestRateLimitService_RequiresIdentifier(t *testing.T) {
	svc, _ := newRateLimiter(t, models.RateLimitSlidingWindow)

	_, err := svc.CheckRateLimit(context.Background(), "", "auth:login")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRateLimitService_FailsOpenWhenStoreDown(t *testing.T) {
	kv, mr := newTestStore(t)
	svc, err := services.NewRateLimitService(kv, services.RateLimitConfig{}, newTestLogger())
	require.NoError(t, err)

	mr.Close()

	res, err := svc.CheckRateLimit(context.Background(), "user-1", "auth:login")
	assert.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 5, res.Remaining)
}

func TestRateLimitService_UnknownStrategy(t *testing.T) {
	kv, _ := newTestStore(t)
	_, err := services.NewRateLimitService(kv, services.RateLimitConfig{Strategy: "leaky"}, newTestLogger())
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestRateLimitServiceFixedWindow_ResetsAtBoundary(t *testing.T) {
	svc, clock := newRateLimiter(t, models.RateLimitFixedWindow)
	ctx := context.Background()
	rule := &models.RateLimitRule{Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		res, err := svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.RetryAfter)
	assert.Equal(t, time.Minute, *res.RetryAfter)

	clock.Advance(time.Minute)
	res, err = svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRateLimitServiceTokenBucket_Refills(t *testing.T) {
	svc, clock := newRateLimiter(t, models.RateLimitTokenBucket)
	ctx := context.Background()
	rule := &models.RateLimitRule{Limit: 2, Window: 10 * time.Second}

	for i := 0; i < 2; i++ {
		res, err := svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	require.NotNil(t, res.RetryAfter)
	assert.Equal(t, 5*time.Second, *res.RetryAfter)

	// One token every 5s
	clock.Advance(5 * time.Second)
	res, err = svc.CheckRateLimitWithRule(ctx, "user-1", "api:general", rule)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestRateLimitService_ConcurrentCallersNeverOverAdmit(t *testing.T) {
	svc, _ := newRateLimiter(t, models.RateLimitSlidingWindow)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.CheckRateLimit(ctx, "user-1", "auth:login")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

func TestRateLimitService_StatusIsNonConsuming(t *testing.T) {
	for _, strategy := range []models.RateLimitStrategy{
		models.RateLimitSlidingWindow,
		models.RateLimitFixedWindow,
		models.RateLimitTokenBucket,
	} {
		t.Run(string(strategy), func(t *testing.T) {
			svc, _ := newRateLimiter(t, strategy)
			ctx := context.Background()

			_, err := svc.CheckRateLimit(ctx, "user-1", "auth:login")
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				status, err := svc.GetRateLimitStatus(ctx, "user-1", "auth:login")
				require.NoError(t, err)
				assert.Equal(t, 1, status.Current)
				assert.Equal(t, 4, status.Remaining)
				assert.Equal(t, strategy, status.Strategy)
			}
		})
	}
}

func TestRateLimitService_ResetClearsAllStrategies(t *testing.T) {
	kv, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("fixed:{user-1}:api:general:0", "3"))
	mr.HSet("bucket:{user-1}:api:general", "tokens", "0")
	require.NoError(t, mr.Set("fixed:{user-10}:api:general:0", "3"))

	svc, err := services.NewRateLimitService(kv, services.RateLimitConfig{}, newTestLogger())
	require.NoError(t, err)
	_, err = svc.CheckRateLimit(ctx, "user-1", "auth:login")
	require.NoError(t, err)

	deleted, err := svc.ResetRateLimit(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.True(t, mr.Exists("fixed:{user-10}:api:general:0"))

	res, err := svc.CheckRateLimit(ctx, "user-1", "auth:login")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Remaining)
}

func TestRateLimitService_ResetDoesNotTouchLongerIdentifiers(t *testing.T) {
	kv, mr := newTestStore(t)
	ctx := context.Background()
	svc, err := services.NewRateLimitService(kv, services.RateLimitConfig{Strategy: models.RateLimitSlidingWindow}, newTestLogger())
	require.NoError(t, err)

	for _, id := range []string{"ip:2001:db8::1", "ip:2001:db8::1:5", "user:a}b"} {
		_, err := svc.CheckRateLimit(ctx, id, "auth:login")
		require.NoError(t, err)
	}

	deleted, err := svc.ResetRateLimit(ctx, "ip:2001:db8::1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.True(t, mr.Exists("sliding:{ip:2001:db8::1:5}:auth:login"))
	assert.True(t, mr.Exists("sliding:{user:a%7Db}:auth:login"))

	status, err := svc.GetRateLimitStatus(ctx, "ip:2001:db8::1:5", "auth:login")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Current)
}

func TestRateLimitService_CustomCounters(t *testing.T) {
	svc, _ := newRateLimiter(t, models.RateLimitSlidingWindow)
	ctx := context.Background()

	v, err := svc.GetCounterValue(ctx, "exports", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = svc.IncrementCustomCounter(ctx, "exports", "user-1", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = svc.IncrementCustomCounter(ctx, "exports", "user-1", 4, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = svc.GetCounterValue(ctx, "exports", "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}
