package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/httpserver/httputil"
	"github.com/ncecere/open_chat_usage/internal/httpserver/middleware"
	usageservice "github.com/ncecere/open_chat_usage/internal/services/usage"
	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

type analyticsHandler struct {
	service *usageservice.Service
}

func rangeQuery(c *fiber.Ctx) timeutil.RangeQuery {
	return timeutil.RangeQuery{
		Range: c.Query("range"),
		Start: c.Query("start"),
		End:   c.Query("end"),
	}
}

func (h *analyticsHandler) usage(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	resp, err := h.service.AdminUsage(middleware.UserContext(c), rangeQuery(c))
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.JSON(resp)
}

func (h *analyticsHandler) export(c *fiber.Ctx) error {
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	result, err := h.service.ExportAdminUsage(middleware.UserContext(c), rangeQuery(c))
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}
