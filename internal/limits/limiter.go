package limits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ncecere/open_chat_usage/internal/config"
)

var (
	ErrUnknownTier      = errors.New("unknown rate limit tier")
	ErrCacheUnavailable = errors.New("rate limit cache unavailable")
)

// Rule is the quota applied to one identity within a tier.
type Rule struct {
	Tier       string
	Limit      int
	Window     time.Duration
	FailClosed bool
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected caller should wait.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Backend records one attempt for key and reports whether it fits the rule.
type Backend interface {
	Hit(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error)
}

// Recorder receives limiter outcomes for metrics.
type Recorder interface {
	RecordRateLimitDecision(tier string, allowed bool)
	RecordRateLimitFallback(tier string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRateLimitDecision(string, bool) {}
func (nopRecorder) RecordRateLimitFallback(string)       {}

// Limiter maps named tiers onto a backend.
type Limiter struct {
	backend  Backend
	rules    map[string]Rule
	recorder Recorder
	now      func() time.Time
}

func NewLimiter(backend Backend, tiers map[string]config.TierConfig, recorder Recorder) *Limiter {
	rules := make(map[string]Rule, len(tiers))
	for name, tier := range tiers {
		key := normalizeTier(name)
		rules[key] = Rule{Tier: key, Limit: tier.Limit, Window: tier.Window, FailClosed: tier.FailClosed}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Limiter{backend: backend, rules: rules, recorder: recorder, now: time.Now}
}

// Rule returns the configured quota for tier.
func (l *Limiter) Rule(tier string) (Rule, bool) {
	rule, ok := l.rules[normalizeTier(tier)]
	return rule, ok
}

// Tiers lists the configured tier names in order.
func (l *Limiter) Tiers() []string {
	names := make([]string, 0, len(l.rules))
	for name := range l.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAndIncrement records an attempt by identity against tier. A rejection is
// reported through Decision.Allowed, not as an error.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identity, tier string) (Decision, error) {
	rule, ok := l.Rule(tier)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}
	decision, err := l.backend.Hit(ctx, Key(rule.Tier, identity), rule, l.now())
	if err != nil {
		return Decision{}, err
	}
	l.recorder.RecordRateLimitDecision(rule.Tier, decision.Allowed)
	return decision, nil
}

// Key builds the storage key for an identity within a tier.
func Key(tier, identity string) string {
	return "rl:" + normalizeTier(tier) + ":" + identity
}

func normalizeTier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
