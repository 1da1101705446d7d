package http

import (
	"mailintel_server/adapter/in/worker"
	"mailintel_server/core/domain"
	"mailintel_server/core/port/in"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// PipelineHandler exposes ingestion and executor visibility.
type PipelineHandler struct {
	emails out.EmailRepository
	chains in.ChainService
	stats  *worker.Stats
}

func NewPipelineHandler(emails out.EmailRepository, chains in.ChainService, stats *worker.Stats) *PipelineHandler {
	return &PipelineHandler{emails: emails, chains: chains, stats: stats}
}

func (h *PipelineHandler) Register(app fiber.Router) {
	pipeline := app.Group("/pipeline")
	pipeline.Post("/emails", h.IngestEmails)
	pipeline.Get("/pending", h.PendingCount)
	pipeline.Get("/stats", h.Stats)
	pipeline.Post("/chains/rebuild", h.RebuildChains)
}

// IngestEmails accepts a JSON array of raw emails and queues them as
// pending rows. Already-ingested IDs are skipped, so callers may replay
// a batch safely.
func (h *PipelineHandler) IngestEmails(c *fiber.Ctx) error {
	var emails []*domain.Email
	if err := c.BodyParser(&emails); err != nil {
		return ErrorResponse(c, fiber.StatusBadRequest, apperr.CodeParseError, "request body is not a JSON email array")
	}
	if len(emails) == 0 {
		return ErrorResponse(c, fiber.StatusBadRequest, apperr.CodeParseError, "empty email batch")
	}
	for _, e := range emails {
		if e.ID == "" {
			return ErrorResponse(c, fiber.StatusBadRequest, apperr.CodeParseError, "every email needs an id")
		}
	}

	inserted, err := h.emails.Ingest(c.Context(), emails)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"received": len(emails),
		"inserted": inserted,
		"skipped":  len(emails) - inserted,
	})
}

func (h *PipelineHandler) PendingCount(c *fiber.Ctx) error {
	count, err := h.emails.PendingCount(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"pending": count})
}

func (h *PipelineHandler) Stats(c *fiber.Ctx) error {
	if h.stats == nil {
		return ErrorResponse(c, fiber.StatusNotFound, apperr.CodeFatal, "executor is not running in this process")
	}
	return SuccessResponse(c, h.stats.Snapshot())
}

// RebuildChains regroups every ungrouped email. Normally run at startup,
// exposed here so operators can pick up freshly ingested batches without
// a restart.
func (h *PipelineHandler) RebuildChains(c *fiber.Ctx) error {
	grouped, err := h.chains.BuildChains(c.Context())
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{"grouped": grouped})
}
