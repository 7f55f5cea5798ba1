package httputil

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	usageservice "github.com/ncecere/open_chat_usage/internal/services/usage"
)

// WriteError standardizes JSON error responses for both user and admin APIs.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// WriteServiceError maps usage service errors onto HTTP statuses. Unexpected
// errors are reported without detail.
func WriteServiceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usageservice.ErrInvalidRange), errors.Is(err, usageservice.ErrInvalidPagination):
		return WriteError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, usageservice.ErrNotFound):
		return WriteError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, usageservice.ErrArchiveUnavailable):
		return WriteError(c, fiber.StatusServiceUnavailable, "report archive unavailable")
	default:
		return WriteError(c, fiber.StatusInternalServerError, "internal error")
	}
}

// ErrorHandler is the app-wide fallback for errors no handler wrote, including
// recovered panics. Fiber errors keep their status and message; anything else
// is logged and answered with a bare 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return WriteError(c, fe.Code, fe.Message)
		}
		logger.Error("unhandled request error",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		return WriteError(c, fiber.StatusInternalServerError, "internal error")
	}
}
