package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ncecere/open_chat_usage/internal/limits"
)

// buildRateLimiter wires the Redis window backend behind the in-memory failover.
// A disabled limiter leaves RateLimiter nil so every check admits.
func (c *Container) buildRateLimiter() {
	cfg := c.Config.RateLimits
	if !cfg.Enabled {
		return
	}
	var recorder limits.Recorder
	if c.Observability != nil {
		recorder = c.Observability
	}
	c.Fallback = limits.NewMemoryBackend(cfg.Fallback)
	backend := limits.NewFailoverBackend(
		limits.NewRedisBackend(c.Redis, c.Config.Redis.OpTimeout),
		c.Fallback,
		recorder,
		c.Logger,
	)
	c.RateLimiter = limits.NewLimiter(backend, cfg.Tiers, recorder)
}

// CheckRateLimit records one attempt for identity against tier.
func (c *Container) CheckRateLimit(ctx context.Context, identity, tier string) (limits.Decision, error) {
	if c == nil || c.RateLimiter == nil {
		return limits.Decision{Allowed: true}, nil
	}
	return c.RateLimiter.CheckAndIncrement(ctx, identity, tier)
}

// StartCacheSweeper periodically drops expired fallback limiter and generation
// cache entries until ctx is cancelled.
func (c *Container) StartCacheSweeper(ctx context.Context, interval time.Duration) {
	if c == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepCaches()
			}
		}
	}()
}

func (c *Container) sweepCaches() {
	var fallback, generations int
	if c.Fallback != nil {
		fallback = c.Fallback.Sweep()
	}
	if c.Generations != nil {
		generations = c.Generations.Sweep()
	}
	if fallback > 0 || generations > 0 {
		c.Logger.Debug("swept expired cache entries",
			slog.Int("fallback_limiters", fallback),
			slog.Int("generations", generations),
		)
	}
}
