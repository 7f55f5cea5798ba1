package limits

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/ncecere/open_chat_usage/internal/cache"
	"github.com/ncecere/open_chat_usage/internal/config"
)

const (
	defaultFallbackEntries = 10000
	defaultFallbackTTL     = 10 * time.Minute
)

type memoryEntry struct {
	limiter *rate.Limiter
	limit   int
	window  time.Duration
}

// MemoryBackend is the per-process limiter used while Redis is unreachable.
// Each key holds a token bucket refilled at limit/window with burst limit.
type MemoryBackend struct {
	entries *cache.LRU[string, *memoryEntry]
}

func NewMemoryBackend(cfg config.FallbackConfig) *MemoryBackend {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultFallbackEntries
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultFallbackTTL
	}
	return &MemoryBackend{entries: cache.NewLRU[string, *memoryEntry](maxEntries, ttl)}
}

func (b *MemoryBackend) Hit(_ context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	entry := b.entries.GetOrAdd(key, func() *memoryEntry { return newMemoryEntry(rule) })
	if entry.limit != rule.Limit || entry.window != rule.Window {
		entry = newMemoryEntry(rule)
		b.entries.Add(key, entry)
	}

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Limit: rule.Limit, ResetAt: now.Add(rule.Window)}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, Limit: rule.Limit, ResetAt: now.Add(delay)}, nil
	}

	remaining := int(math.Floor(entry.limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	interval := rule.Window / time.Duration(rule.Limit)
	resetAt := now.Add(interval * time.Duration(rule.Limit-remaining))
	return Decision{Allowed: true, Limit: rule.Limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Len reports how many identities are tracked.
func (b *MemoryBackend) Len() int {
	return b.entries.Len()
}

func newMemoryEntry(rule Rule) *memoryEntry {
	every := rate.Every(rule.Window / time.Duration(rule.Limit))
	return &memoryEntry{
		limiter: rate.NewLimiter(every, rule.Limit),
		limit:   rule.Limit,
		window:  rule.Window,
	}
}

// Sweep drops limiters idle for longer than the configured TTL.
func (b *MemoryBackend) Sweep() int {
	return b.entries.Sweep()
}
