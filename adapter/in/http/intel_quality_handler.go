package http

import (
	"context"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/in"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ReportHistory reads back archived quality reports.
type ReportHistory interface {
	Recent(ctx context.Context, limit int) ([]*domain.QualityReport, error)
}

// QualityHandler serves quality reports produced by the monitor.
type QualityHandler struct {
	monitor in.MonitorService
	cache   out.ReportCache
	history ReportHistory
}

func NewQualityHandler(monitor in.MonitorService, cache out.ReportCache, history ReportHistory) *QualityHandler {
	return &QualityHandler{monitor: monitor, cache: cache, history: history}
}

func (h *QualityHandler) Register(app fiber.Router) {
	quality := app.Group("/quality")
	quality.Get("/latest", h.Latest)
	quality.Post("/run", h.RunOnce)
	quality.Get("/history", h.History)
}

// Latest returns the cached report from the last monitor cycle. When the
// cache is cold or absent it falls back to computing a fresh report.
func (h *QualityHandler) Latest(c *fiber.Ctx) error {
	if h.cache != nil {
		report, err := h.cache.GetLatest(c.Context())
		if err == nil && report != nil {
			return SuccessResponse(c, report)
		}
	}

	report, _, err := h.monitor.RunOnce(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, report)
}

// RunOnce forces a monitor cycle and returns report plus alerts.
func (h *QualityHandler) RunOnce(c *fiber.Ctx) error {
	report, alerts, err := h.monitor.RunOnce(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"report": report,
		"alerts": alerts,
	})
}

func (h *QualityHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return ErrorResponse(c, fiber.StatusNotFound, apperr.CodeFatal, "report archive is not configured")
	}
	params := GetPaginationParams(c, 24)
	reports, err := h.history.Recent(c.Context(), params.Limit)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"reports": reports,
		"count":   len(reports),
	})
}
