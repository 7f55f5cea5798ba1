package requestctx

import (
	"context"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the caller Context.
var Key contextKey = "open-chat-usage/requestctx"

// Context captures the caller identity resolved from the bearer token, or the
// anonymous fingerprint when no token was presented.
type Context struct {
	UserID      string
	Role        string
	Tier        string
	Admin       bool
	Fingerprint string
}

// Anonymous reports whether the caller presented no verified identity.
func (c *Context) Anonymous() bool {
	return c == nil || c.UserID == ""
}

// Identity is the opaque rate limit identity for the caller.
func (c *Context) Identity() string {
	if c == nil {
		return "anon:unknown"
	}
	if c.UserID != "" {
		return "user:" + c.UserID
	}
	if c.Fingerprint != "" {
		return "anon:" + c.Fingerprint
	}
	return "anon:unknown"
}

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok && rc != nil
}

// FiberLocalsKey returns the key used in fiber.Locals for request context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
