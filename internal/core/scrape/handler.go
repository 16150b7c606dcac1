package scrape

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"xscraper/internal/core/task"
	"xscraper/internal/platform/xapi"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) HandleSubmit(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid body"})
	}
	id, err := h.svc.Submit(c.Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "task_id": id})
}

func (h *Handler) HandleProgress(c *fiber.Ctx) error {
	report, err := h.svc.Progress(c.Context(), c.Params("taskId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(report)
}

func (h *Handler) HandleResult(c *fiber.Ctx) error {
	id := c.Params("taskId")
	items, err := h.svc.Result(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "task_id": id, "count": len(items), "items": items})
}

func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	if err := h.svc.Cancel(c.Context(), c.Params("taskId")); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "cancelled": true})
}

// HandleExport streams a done task's items as a CSV attachment.
func (h *Handler) HandleExport(c *fiber.Ctx) error {
	id := c.Params("taskId")
	items, err := h.svc.Result(c.Context(), id)
	if err != nil {
		return errorResponse(c, err)
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+id+`.csv"`)
	b, err := exportCSV(items)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.Send(b)
}

// errorResponse maps the error taxonomy onto HTTP statuses: caller
// mistakes and auth problems are 4xx, throttling 429, everything else 5xx.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "task not found"})
	case errors.Is(err, task.ErrNotReady):
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": false, "error": "task still running"})
	case errors.Is(err, task.ErrFinished):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "error": "task already finished"})
	}

	status := fiber.StatusInternalServerError
	switch xapi.KindOf(err) {
	case xapi.KindInvalidParameter:
		status = fiber.StatusBadRequest
	case xapi.KindAuth:
		status = fiber.StatusUnauthorized
	case xapi.KindRateLimit:
		status = fiber.StatusTooManyRequests
	case xapi.KindCancelled:
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}
