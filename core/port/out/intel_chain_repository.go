package out

import (
	"context"

	"mailintel_server/core/domain"
)

// ChainRepository persists derived conversation chains.
type ChainRepository interface {
	// Upsert writes a chain row keyed by its deterministic chain id.
	Upsert(ctx context.Context, chain *domain.EmailChain) error

	// GetByID returns one chain, or nil when absent.
	GetByID(ctx context.Context, chainID string) (*domain.EmailChain, error)

	// List returns chains ordered by completeness score descending.
	List(ctx context.Context, limit, offset int) ([]*domain.EmailChain, error)
}
