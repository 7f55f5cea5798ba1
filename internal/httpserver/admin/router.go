package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/app"
	"github.com/ncecere/open_chat_usage/internal/httpserver/middleware"
)

// Register wires the /admin/analytics routes.
func Register(app *fiber.App, container *app.Container) {
	if app == nil || container == nil {
		return
	}

	handler := &analyticsHandler{service: container.UsageService}

	group := app.Group("/admin/analytics", middleware.Identify(container))
	group.Get("/usage",
		middleware.RateLimit(container, middleware.TierRead),
		middleware.RequireAdmin(),
		handler.usage,
	)
	group.Post("/usage/export",
		middleware.RateLimit(container, middleware.TierStorage),
		middleware.RequireAdmin(),
		handler.export,
	)
}
