package user

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/app"
	"github.com/ncecere/open_chat_usage/internal/httpserver/middleware"
)

// Register wires the signed-in user's cost endpoints.
func Register(app *fiber.App, container *app.Container) {
	if app == nil || container == nil {
		return
	}

	handler := &usageHandler{service: container.UsageService}

	group := app.Group("/usage",
		middleware.Identify(container),
		middleware.RateLimit(container, middleware.TierRead),
		middleware.RequireUser(),
	)
	group.Get("/costs", handler.costs)
	group.Get("/costs/daily", handler.dailyCosts)
	group.Get("/costs/models/daily", handler.modelsDaily)
	group.Get("/generations/:id", handler.generation)
}
