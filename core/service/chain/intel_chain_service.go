package chain

import (
	"context"
	"fmt"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"

	"github.com/rs/zerolog"
)

// Service persists the Analyzer's output: chain rows plus per-email
// routing hints. Runs before the executor starts claiming.
type Service struct {
	analyzer  *Analyzer
	emailRepo out.EmailRepository
	chainRepo out.ChainRepository
	batchSize int
	log       zerolog.Logger
}

// NewService creates a chain Service.
func NewService(analyzer *Analyzer, emailRepo out.EmailRepository, chainRepo out.ChainRepository, batchSize int, log zerolog.Logger) *Service {
	if batchSize < 1 {
		batchSize = 500
	}
	return &Service{
		analyzer:  analyzer,
		emailRepo: emailRepo,
		chainRepo: chainRepo,
		batchSize: batchSize,
		log:       log.With().Str("component", "chain_service").Logger(),
	}
}

// BuildChains groups every ungrouped email into a chain and writes chain
// rows and routing columns. Returns the number of chains written.
//
// A late reply hashes to the chain id its thread already owns, so before
// writing anything the prior members of every touched chain are pulled
// back in and the grouping is recomputed over the full membership. The
// stored row is then a rescore, never a replacement.
func (s *Service) BuildChains(ctx context.Context) (int, error) {
	emails, err := s.emailRepo.ListUngrouped(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list ungrouped emails: %w", err)
	}
	if len(emails) == 0 {
		return 0, nil
	}

	chains := s.analyzer.BuildChains(emails)
	if chains, err = s.mergeExisting(ctx, emails, chains); err != nil {
		return 0, err
	}
	written := 0
	for _, c := range chains {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := s.chainRepo.Upsert(ctx, c); err != nil {
			return written, fmt.Errorf("upsert chain %s: %w", c.ChainID, err)
		}
		for _, emailID := range c.MemberIDs {
			if err := s.emailRepo.SetChain(ctx, emailID, c.ChainID, c.CompletenessScore, c.Completeness, c.RecommendedPhase); err != nil {
				return written, fmt.Errorf("assign email %s to chain %s: %w", emailID, c.ChainID, err)
			}
		}
		written++

		s.log.Debug().
			Str("chain_id", c.ChainID).
			Int("members", c.Size()).
			Float64("score", c.CompletenessScore).
			Str("bucket", string(c.Completeness)).
			Int("phase", c.RecommendedPhase).
			Msg("chain built")
	}

	s.log.Info().
		Int("emails", len(emails)).
		Int("chains", written).
		Msg("chain grouping complete")
	return written, nil
}

// mergeExisting widens the email set with the stored members of every
// chain id that already has a row, then regroups. Without this a reply
// arriving after its thread was grouped would overwrite the chain with
// itself as the only member.
func (s *Service) mergeExisting(ctx context.Context, emails []*domain.Email, chains []*domain.EmailChain) ([]*domain.EmailChain, error) {
	seen := make(map[string]bool, len(emails))
	for _, e := range emails {
		seen[e.ID] = true
	}

	widened := false
	for _, c := range chains {
		existing, err := s.chainRepo.GetByID(ctx, c.ChainID)
		if err != nil {
			return nil, fmt.Errorf("look up chain %s: %w", c.ChainID, err)
		}
		if existing == nil {
			continue
		}
		prior, err := s.emailRepo.ListByChain(ctx, c.ChainID)
		if err != nil {
			return nil, fmt.Errorf("list members of chain %s: %w", c.ChainID, err)
		}
		for _, e := range prior {
			if !seen[e.ID] {
				seen[e.ID] = true
				emails = append(emails, e)
				widened = true
			}
		}
	}
	if !widened {
		return chains, nil
	}
	return s.analyzer.BuildChains(emails), nil
}
