package middleware

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/app"
	"github.com/ncecere/open_chat_usage/internal/httpserver/httputil"
	"github.com/ncecere/open_chat_usage/internal/limits"
)

// Route tiers.
const (
	TierStorage = "tier_b"
	TierRead    = "tier_c"
)

const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// RateLimit admits requests against the named tier. It must run after Identify.
func RateLimit(container *app.Container, tier string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, _ := Caller(c)
		ctx := UserContext(c)
		decision, err := container.CheckRateLimit(ctx, rc.Identity(), tier)
		if err != nil {
			if errors.Is(err, limits.ErrUnknownTier) {
				container.Logger.ErrorContext(ctx, "route uses unconfigured rate limit tier", slog.String("tier", tier))
				return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit misconfigured")
			}
			container.Logger.ErrorContext(ctx, "rate limit check failed", slog.String("tier", tier), slog.String("error", err.Error()))
			return httputil.WriteError(c, fiber.StatusServiceUnavailable, "rate limiter unavailable")
		}

		if decision.Limit > 0 {
			c.Set(headerLimit, strconv.Itoa(decision.Limit))
			c.Set(headerRemaining, strconv.Itoa(decision.Remaining))
			c.Set(headerReset, strconv.FormatInt(decision.ResetAt.Unix(), 10))
		}
		if !decision.Allowed {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds(decision, time.Now())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":    "rate limit exceeded",
				"reset_at": decision.ResetAt.UTC().Format(time.RFC3339),
			})
		}
		return c.Next()
	}
}

func retryAfterSeconds(d limits.Decision, now time.Time) int {
	secs := int(math.Ceil(d.RetryAfter(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
