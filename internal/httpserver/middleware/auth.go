package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/app"
	"github.com/ncecere/open_chat_usage/internal/httpserver/httputil"
	"github.com/ncecere/open_chat_usage/internal/requestctx"
)

// Identify resolves the caller for every request. Missing tokens produce an
// anonymous caller; a token that does not verify is rejected.
func Identify(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, err := app.BuildRequestContext(container, c.Get(fiber.HeaderAuthorization), c.IP())
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(UserContext(c), rc))
		return c.Next()
	}
}

// RequireUser rejects anonymous callers.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, ok := Caller(c)
		if !ok || rc.Anonymous() {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
		}
		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rc, ok := Caller(c)
		if !ok || rc.Anonymous() {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if !rc.Admin {
			return httputil.WriteError(c, fiber.StatusForbidden, "admin access required")
		}
		return c.Next()
	}
}

// Caller returns the request context attached by Identify.
func Caller(c *fiber.Ctx) (*requestctx.Context, bool) {
	if rc, ok := c.Locals(requestctx.FiberLocalsKey()).(*requestctx.Context); ok && rc != nil {
		return rc, true
	}
	return requestctx.FromContext(UserContext(c))
}

// UserContext returns the request's user context, never nil.
func UserContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
