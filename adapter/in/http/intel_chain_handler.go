package http

import (
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// ChainHandler exposes derived conversation chains for inspection.
type ChainHandler struct {
	chains out.ChainRepository
}

func NewChainHandler(chains out.ChainRepository) *ChainHandler {
	return &ChainHandler{chains: chains}
}

func (h *ChainHandler) Register(app fiber.Router) {
	chains := app.Group("/chains")
	chains.Get("/", h.ListChains)
	chains.Get("/:id", h.GetChain)
}

func (h *ChainHandler) ListChains(c *fiber.Ctx) error {
	params := GetPaginationParams(c, 50)
	chains, err := h.chains.List(c.Context(), params.Limit, params.Offset)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	return SuccessResponse(c, fiber.Map{
		"chains": chains,
		"count":  len(chains),
		"offset": params.Offset,
	})
}

func (h *ChainHandler) GetChain(c *fiber.Ctx) error {
	chainID := c.Params("id")
	if chainID == "" {
		return ErrorResponse(c, fiber.StatusBadRequest, apperr.CodeParseError, "missing chain id")
	}

	chain, err := h.chains.GetByID(c.Context(), chainID)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	if chain == nil {
		return ErrorResponse(c, fiber.StatusNotFound, apperr.CodeFatal, "chain not found")
	}
	return SuccessResponse(c, chain)
}
