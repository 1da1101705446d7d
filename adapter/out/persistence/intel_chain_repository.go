package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
)

// ChainRepository implements out.ChainRepository on the pooled store.
type ChainRepository struct {
	store *Store
	log   zerolog.Logger
}

// NewChainRepository builds the repository.
func NewChainRepository(store *Store, log zerolog.Logger) *ChainRepository {
	return &ChainRepository{
		store: store,
		log:   log.With().Str("component", "chain_repository").Logger(),
	}
}

type chainRow struct {
	ChainID           string       `db:"chain_id"`
	MemberIDs         string       `db:"member_ids"`
	Participants      string       `db:"participants"`
	Completeness      string       `db:"completeness"`
	CompletenessScore float64      `db:"completeness_score"`
	WorkflowType      string       `db:"workflow_type"`
	RecommendedPhase  int          `db:"recommended_phase"`
	FirstMessageAt    sql.NullTime `db:"first_message_at"`
	LastMessageAt     sql.NullTime `db:"last_message_at"`
	EstimatedValue    float64      `db:"estimated_value"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r chainRow) toDomain() (*domain.EmailChain, error) {
	chain := &domain.EmailChain{
		ChainID:           r.ChainID,
		Completeness:      domain.Completeness(r.Completeness),
		CompletenessScore: r.CompletenessScore,
		WorkflowType:      domain.WorkflowType(r.WorkflowType),
		RecommendedPhase:  r.RecommendedPhase,
		EstimatedValue:    r.EstimatedValue,
	}
	if err := json.Unmarshal([]byte(r.MemberIDs), &chain.MemberIDs); err != nil {
		return nil, fmt.Errorf("decode members for %s: %w", r.ChainID, err)
	}
	if err := json.Unmarshal([]byte(r.Participants), &chain.Participants); err != nil {
		return nil, fmt.Errorf("decode participants for %s: %w", r.ChainID, err)
	}
	if r.FirstMessageAt.Valid {
		chain.FirstMessageAt = r.FirstMessageAt.Time
	}
	if r.LastMessageAt.Valid {
		chain.LastMessageAt = r.LastMessageAt.Time
	}
	return chain, nil
}

// Upsert writes a chain row keyed by its deterministic id. Chains are
// recomputed from scratch each grouping pass, so the whole row is replaced.
func (r *ChainRepository) Upsert(ctx context.Context, chain *domain.EmailChain) error {
	members, err := json.Marshal(chain.MemberIDs)
	if err != nil {
		return fmt.Errorf("encode members for %s: %w", chain.ChainID, err)
	}
	participants, err := json.Marshal(chain.Participants)
	if err != nil {
		return fmt.Errorf("encode participants for %s: %w", chain.ChainID, err)
	}
	return r.store.with(ctx, func(db *sqlx.DB) error {
		query := db.Rebind(`INSERT INTO chains
			(chain_id, member_ids, participants, completeness, completeness_score,
			 workflow_type, recommended_phase, first_message_at, last_message_at,
			 estimated_value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (chain_id) DO UPDATE SET
				member_ids = excluded.member_ids,
				participants = excluded.participants,
				completeness = excluded.completeness,
				completeness_score = excluded.completeness_score,
				workflow_type = excluded.workflow_type,
				recommended_phase = excluded.recommended_phase,
				first_message_at = excluded.first_message_at,
				last_message_at = excluded.last_message_at,
				estimated_value = excluded.estimated_value,
				updated_at = excluded.updated_at`)
		_, err := db.ExecContext(ctx, query,
			chain.ChainID, string(members), string(participants),
			string(chain.Completeness), chain.CompletenessScore,
			string(chain.WorkflowType), chain.RecommendedPhase,
			chain.FirstMessageAt.UTC(), chain.LastMessageAt.UTC(),
			chain.EstimatedValue, time.Now().UTC())
		return err
	})
}

// GetByID returns one chain, or nil when absent.
func (r *ChainRepository) GetByID(ctx context.Context, chainID string) (*domain.EmailChain, error) {
	var row chainRow
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		query := db.Rebind(`SELECT * FROM chains WHERE chain_id = ?`)
		return db.GetContext(ctx, &row, query, chainID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// List returns chains ordered by completeness score descending.
func (r *ChainRepository) List(ctx context.Context, limit, offset int) ([]*domain.EmailChain, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []chainRow
	err := r.store.with(ctx, func(db *sqlx.DB) error {
		query := db.Rebind(`SELECT * FROM chains
			ORDER BY completeness_score DESC, chain_id ASC
			LIMIT ? OFFSET ?`)
		return db.SelectContext(ctx, &rows, query, limit, offset)
	})
	if err != nil {
		return nil, err
	}
	chains := make([]*domain.EmailChain, 0, len(rows))
	for _, row := range rows {
		chain, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return chains, nil
}
