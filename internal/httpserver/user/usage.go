package user

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/open_chat_usage/internal/httpserver/httputil"
	"github.com/ncecere/open_chat_usage/internal/httpserver/middleware"
	usageservice "github.com/ncecere/open_chat_usage/internal/services/usage"
	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

type usageHandler struct {
	service *usageservice.Service
}

func rangeQuery(c *fiber.Ctx) timeutil.RangeQuery {
	return timeutil.RangeQuery{
		Range: c.Query("range"),
		Start: c.Query("start"),
		End:   c.Query("end"),
	}
}

func callerID(c *fiber.Ctx) (string, bool) {
	rc, ok := middleware.Caller(c)
	if !ok || rc.Anonymous() {
		return "", false
	}
	return rc.UserID, true
}

func (h *usageHandler) costs(c *fiber.Ctx) error {
	userID, ok := callerID(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	page, pageSize, err := usageservice.ParsePagination(c.Query("page"), c.Query("page_size"))
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	report, err := h.service.CostReport(middleware.UserContext(c), usageservice.CostReportParams{
		UserID:   userID,
		ModelID:  c.Query("model_id"),
		Range:    rangeQuery(c),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.JSON(report)
}

func (h *usageHandler) dailyCosts(c *fiber.Ctx) error {
	userID, ok := callerID(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	resp, err := h.service.DailyCosts(middleware.UserContext(c), userID, c.Query("model_id"), rangeQuery(c))
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.JSON(resp)
}

func (h *usageHandler) modelsDaily(c *fiber.Ctx) error {
	userID, ok := callerID(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	topN := usageservice.DefaultTopModels
	if raw := strings.TrimSpace(c.Query("top_models")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "top_models must be an integer")
		}
		topN = n
	}
	resp, err := h.service.ModelsDaily(middleware.UserContext(c), userID, rangeQuery(c), topN)
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.JSON(resp)
}

func (h *usageHandler) generation(c *fiber.Ctx) error {
	userID, ok := callerID(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}
	if h.service == nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage service unavailable")
	}
	row, err := h.service.Generation(middleware.UserContext(c), userID, c.Params("id"))
	if err != nil {
		return httputil.WriteServiceError(c, err)
	}
	return c.JSON(row)
}
