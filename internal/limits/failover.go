package limits

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// FailoverBackend answers from primary and switches to fallback when the
// shared cache cannot be reached. Rules marked FailClosed reject instead.
type FailoverBackend struct {
	primary  Backend
	fallback Backend
	recorder Recorder
	logger   *slog.Logger
}

func NewFailoverBackend(primary, fallback Backend, recorder Recorder, logger *slog.Logger) *FailoverBackend {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverBackend{primary: primary, fallback: fallback, recorder: recorder, logger: logger}
}

func (b *FailoverBackend) Hit(ctx context.Context, key string, rule Rule, now time.Time) (Decision, error) {
	decision, err := b.primary.Hit(ctx, key, rule, now)
	if err == nil || !errors.Is(err, ErrCacheUnavailable) {
		return decision, err
	}

	b.recorder.RecordRateLimitFallback(rule.Tier)
	if rule.FailClosed {
		b.logger.WarnContext(ctx, "rate limit cache unavailable, rejecting fail-closed tier",
			slog.String("tier", rule.Tier),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: false, Limit: rule.Limit, ResetAt: now.Add(rule.Window)}, nil
	}

	b.logger.WarnContext(ctx, "rate limit cache unavailable, using in-memory fallback",
		slog.String("tier", rule.Tier),
		slog.String("error", err.Error()),
	)
	return b.fallback.Hit(ctx, key, rule, now)
}
