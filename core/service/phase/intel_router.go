package phase

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// Router dispatches each claimed record to the analyzer matching its
// chain completeness bucket and finalizes the result: provenance, timing,
// confidence clamp and the minimum-size quality gate.
type Router struct {
	rules    *RuleAnalyzer
	medium   *LLMAnalyzer
	large    *LLMAnalyzer
	chains   out.ChainRepository
	buckets  domain.ChainBuckets
	minBytes int
	log      zerolog.Logger
}

// NewRouter wires the three analyzers behind one AnalysisService.
func NewRouter(rules *RuleAnalyzer, medium, large *LLMAnalyzer, chains out.ChainRepository, buckets domain.ChainBuckets, minBytes int, log zerolog.Logger) *Router {
	return &Router{
		rules:    rules,
		medium:   medium,
		large:    large,
		chains:   chains,
		buckets:  buckets,
		minBytes: minBytes,
		log:      log.With().Str("component", "phase_router").Logger(),
	}
}

// Analyze runs one email through its phase. The recommended phase stored
// at claim time wins; records that never went through chain grouping are
// routed by bucketing their score on the fly.
func (r *Router) Analyze(ctx context.Context, rec *domain.EmailRecord) (*domain.AnalysisResult, error) {
	start := time.Now()

	phase := rec.RecommendedPhase
	if phase == 0 {
		phase = domain.PhaseFor(r.buckets.Bucket(rec.ChainScore))
	}

	var chain *domain.EmailChain
	if rec.ChainID != "" && r.chains != nil {
		c, err := r.chains.GetByID(ctx, rec.ChainID)
		if err != nil {
			r.log.Warn().Err(err).Str("chain_id", rec.ChainID).Msg("chain lookup failed, analyzing without chain context")
		} else {
			chain = c
		}
	}

	var (
		res *domain.AnalysisResult
		err error
	)
	switch phase {
	case domain.PhaseRuleBased:
		res = r.rules.Analyze(rec, chain)
	case domain.PhaseMediumLLM:
		res, err = r.medium.Analyze(ctx, rec, chain)
	case domain.PhaseLargeLLM:
		res, err = r.large.Analyze(ctx, rec, chain)
	default:
		res, err = r.medium.Analyze(ctx, rec, chain)
	}
	if err != nil {
		return nil, err
	}

	res.EmailID = rec.ID
	res.ChainID = rec.ChainID
	res.ProcessingTimeMS = time.Since(start).Milliseconds()
	res.ProcessedAt = time.Now().UTC()
	res.ClampConfidence()

	if err := r.gate(res); err != nil {
		return nil, err
	}
	return res, nil
}

// gate rejects results too small to be useful downstream. The check is on
// the serialized form, the same bytes the store and report consumers see.
func (r *Router) gate(res *domain.AnalysisResult) error {
	if r.minBytes <= 0 {
		return nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return apperr.ParseError("result serialization failed", err)
	}
	if len(b) < r.minBytes {
		return apperr.QualityGateFail(len(b), r.minBytes)
	}
	return nil
}
