package limits

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_chat_usage/internal/config"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingRecorder struct {
	mu        sync.Mutex
	allowed   int
	rejected  int
	fallbacks int
}

func (r *countingRecorder) RecordRateLimitDecision(_ string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if allowed {
		r.allowed++
	} else {
		r.rejected++
	}
}

func (r *countingRecorder) RecordRateLimitFallback(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks++
}

func TestRedisBackendConcurrentAdmission(t *testing.T) {
	_, client := newTestRedis(t)
	backend := NewRedisBackend(client, time.Second)
	rule := Rule{Tier: "tier_c", Limit: 5, Window: time.Minute}
	now := time.Now()

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := backend.Hit(context.Background(), "rl:tier_c:user:1", rule, now)
			if err != nil {
				t.Errorf("hit: %v", err)
				return
			}
			if d.Allowed {
				admitted.Add(1)
			} else {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(5), admitted.Load())
	require.Equal(t, int32(5), rejected.Load())

	// rejected attempts were not recorded
	n, err := client.ZCard(context.Background(), "rl:tier_c:user:1").Result()
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
}

func TestRedisBackendWindowSlides(t *testing.T) {
	server, client := newTestRedis(t)
	backend := NewRedisBackend(client, time.Second)
	rule := Rule{Tier: "tier_b", Limit: 2, Window: time.Minute}
	ctx := context.Background()
	start := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	d, err := backend.Hit(ctx, "k", rule, start)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 1, d.Remaining)
	require.Equal(t, start.Add(time.Minute).UnixMilli(), d.ResetAt.UnixMilli())

	d, err = backend.Hit(ctx, "k", rule, start.Add(10*time.Second))
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, d.Remaining)

	d, err = backend.Hit(ctx, "k", rule, start.Add(20*time.Second))
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, start.Add(time.Minute).UnixMilli(), d.ResetAt.UnixMilli())
	require.Equal(t, 40*time.Second, d.RetryAfter(start.Add(20*time.Second)))

	// first attempt leaves the window exactly one window later
	d, err = backend.Hit(ctx, "k", rule, start.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.True(t, server.Exists("k"))
	require.Equal(t, time.Minute, server.TTL("k"))
}

func TestRedisBackendRejectionLeavesNoMember(t *testing.T) {
	_, client := newTestRedis(t)
	backend := NewRedisBackend(client, time.Second)
	rule := Rule{Tier: "tier_b", Limit: 1, Window: time.Minute}
	ctx := context.Background()
	start := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

	d, err := backend.Hit(ctx, "k", rule, start)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	for i := 1; i <= 3; i++ {
		d, err = backend.Hit(ctx, "k", rule, start.Add(time.Duration(i)*10*time.Second))
		require.NoError(t, err)
		require.False(t, d.Allowed)
		members, err := client.ZRangeWithScores(ctx, "k", 0, -1).Result()
		require.NoError(t, err)
		require.Len(t, members, 1)
		require.Equal(t, float64(start.UnixMilli()), members[0].Score)
	}

	d, err = backend.Hit(ctx, "k", rule, start.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, start.Add(2*time.Minute).UnixMilli(), d.ResetAt.UnixMilli())
}

func TestMemoryBackendEnforcesBound(t *testing.T) {
	backend := NewMemoryBackend(config.FallbackConfig{MaxEntries: 10, TTL: time.Minute})
	rule := Rule{Tier: "tier_c", Limit: 3, Window: time.Minute}
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d, err := backend.Hit(context.Background(), "anon:abc", rule, now)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-i, d.Remaining)
	}
	d, err := backend.Hit(context.Background(), "anon:abc", rule, now)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.WithinDuration(t, now.Add(20*time.Second), d.ResetAt, time.Millisecond)

	// one token refills after window/limit
	d, err = backend.Hit(context.Background(), "anon:abc", rule, now.Add(21*time.Second))
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestMemoryBackendBoundedEntries(t *testing.T) {
	backend := NewMemoryBackend(config.FallbackConfig{MaxEntries: 2, TTL: time.Minute})
	rule := Rule{Limit: 1, Window: time.Minute}
	now := time.Now()
	for _, key := range []string{"a", "b", "c"} {
		_, err := backend.Hit(context.Background(), key, rule, now)
		require.NoError(t, err)
	}
	require.Equal(t, 2, backend.Len())
}

func TestFailoverFallsBackWhenRedisDown(t *testing.T) {
	server, client := newTestRedis(t)
	server.Close()

	recorder := &countingRecorder{}
	backend := NewFailoverBackend(
		NewRedisBackend(client, 50*time.Millisecond),
		NewMemoryBackend(config.FallbackConfig{}),
		recorder,
		quietLogger(),
	)
	limiter := NewLimiter(backend, map[string]config.TierConfig{
		"tier_c": {Limit: 2, Window: time.Minute},
	}, recorder)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.CheckAndIncrement(ctx, "user:1", "tier_c")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
	d, err := limiter.CheckAndIncrement(ctx, "user:1", "tier_c")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.Equal(t, 3, recorder.fallbacks)
	require.Equal(t, 2, recorder.allowed)
	require.Equal(t, 1, recorder.rejected)
}

func TestFailoverFailClosedTier(t *testing.T) {
	server, client := newTestRedis(t)
	server.Close()

	backend := NewFailoverBackend(
		NewRedisBackend(client, 50*time.Millisecond),
		NewMemoryBackend(config.FallbackConfig{}),
		nil,
		quietLogger(),
	)
	d, err := backend.Hit(context.Background(), "k", Rule{Tier: "tier_b", Limit: 10, Window: time.Minute, FailClosed: true}, time.Now())
	require.NoError(t, err)
	require.False(t, d.Allowed)
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	_, client := newTestRedis(t)
	memory := NewMemoryBackend(config.FallbackConfig{})
	backend := NewFailoverBackend(NewRedisBackend(client, time.Second), memory, nil, quietLogger())

	d, err := backend.Hit(context.Background(), "k", Rule{Limit: 1, Window: time.Minute}, time.Now())
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Zero(t, memory.Len())
}

func TestLimiterUnknownTier(t *testing.T) {
	limiter := NewLimiter(NewMemoryBackend(config.FallbackConfig{}), map[string]config.TierConfig{
		"Tier_B": {Limit: 1, Window: time.Minute},
	}, nil)
	_, err := limiter.CheckAndIncrement(context.Background(), "user:1", "tier_x")
	require.ErrorIs(t, err, ErrUnknownTier)

	_, ok := limiter.Rule("tier_b")
	require.True(t, ok)
	require.Equal(t, []string{"tier_b"}, limiter.Tiers())
	require.Equal(t, "rl:tier_b:user:1", Key(" TIER_B ", "user:1"))
}
