package phase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// LLMConfig carries the per-phase inference settings.
type LLMConfig struct {
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	Backoff     time.Duration
	Temperature float64
	TopP        float64
	NumPredict  int
}

// LLMAnalyzer runs phases 2 and 3. Both phases share the call path; they
// differ only in model, timeout, system prompt and fallback confidence.
// A weighted semaphore bounds in-flight inference calls so a burst of
// workers cannot overrun the model server.
type LLMAnalyzer struct {
	phase       int
	client      out.LLMClient
	cfg         LLMConfig
	prompts     *PromptBuilder
	fallback    *RuleAnalyzer
	sem         *semaphore.Weighted
	baseline    float64 // confidence on a successful parse
	fallbackCap float64 // confidence ceiling on rule fallback
	log         zerolog.Logger
}

// NewLLMAnalyzer builds the analyzer for the given phase (2 or 3).
// sem may be shared between phases; nil disables gating.
func NewLLMAnalyzer(phase int, client out.LLMClient, cfg LLMConfig, prompts *PromptBuilder, fallback *RuleAnalyzer, sem *semaphore.Weighted, log zerolog.Logger) *LLMAnalyzer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	baseline, fallbackCap := 0.7, 0.4
	if phase == domain.PhaseLargeLLM {
		baseline, fallbackCap = 0.8, 0.5
	}
	return &LLMAnalyzer{
		phase:       phase,
		client:      client,
		cfg:         cfg,
		prompts:     prompts,
		fallback:    fallback,
		sem:         sem,
		baseline:    baseline,
		fallbackCap: fallbackCap,
		log:         log.With().Str("component", "llm_analyzer").Int("phase", phase).Logger(),
	}
}

// Analyze calls the model with retries and parses its output. Retryable
// failures back off linearly; when every attempt fails the rule-based
// result is returned instead, tagged as a fallback with capped
// confidence. A caller deadline expiring mid-call surfaces as a timeout
// error so the record can be marked accordingly.
func (a *LLMAnalyzer) Analyze(ctx context.Context, rec *domain.EmailRecord, chain *domain.EmailChain) (*domain.AnalysisResult, error) {
	req := &out.GenerateRequest{
		Model:  a.cfg.Model,
		Prompt: a.prompts.User(rec),
		System: a.prompts.System(a.phase),
		Options: out.GenerateOptions{
			Temperature: a.cfg.Temperature,
			TopP:        a.cfg.TopP,
			NumPredict:  a.cfg.NumPredict,
		},
	}

	regexFloor := a.fallback.extractor.Extract(&rec.Email)

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, a.deadlineErr(ctx)
		}

		raw, err := a.generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, a.deadlineErr(ctx)
			}
			if !apperr.IsRetryable(err) {
				lastErr = err
				break
			}
			lastErr = err
			a.log.Warn().Err(err).Int("attempt", attempt).Str("email_id", rec.ID).Msg("inference attempt failed")
			if attempt < a.cfg.MaxRetries {
				if !a.sleep(ctx, a.waitFor(err, attempt)) {
					return nil, a.deadlineErr(ctx)
				}
			}
			continue
		}

		res, defaulted, perr := ParseResult(raw, a.baseline)
		if perr != nil {
			lastErr = perr
			a.log.Warn().Err(perr).Int("attempt", attempt).Str("email_id", rec.ID).Msg("unparseable model output")
			if attempt < a.cfg.MaxRetries {
				if !a.sleep(ctx, a.cfg.Backoff*time.Duration(attempt)) {
					return nil, a.deadlineErr(ctx)
				}
			}
			continue
		}

		res.EmailID = rec.ID
		res.ChainID = rec.ChainID
		res.PhaseUsed = a.phase
		res.Method = a.methodTag(false)
		res.Entities.Merge(regexFloor)
		if defaulted {
			a.log.Debug().Str("email_id", rec.ID).Msg("model output partially defaulted")
		}
		return res, nil
	}

	a.log.Warn().Err(lastErr).Str("email_id", rec.ID).Msg("inference exhausted, using rule fallback")
	res := a.fallback.Analyze(rec, chain)
	res.PhaseUsed = a.phase
	res.Method = a.methodTag(true)
	if res.Confidence > a.fallbackCap {
		res.Confidence = a.fallbackCap
	}
	return res, nil
}

// generate performs one gated, deadline-bounded inference call.
func (a *LLMAnalyzer) generate(ctx context.Context, req *out.GenerateRequest) (string, error) {
	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return "", err
		}
		defer a.sem.Release(1)
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	return a.client.Generate(callCtx, req)
}

// waitFor picks the delay before the next attempt, honoring an explicit
// Retry-After over the linear backoff.
func (a *LLMAnalyzer) waitFor(err error, attempt int) time.Duration {
	if ae := apperr.AsAppError(err); ae.RetryAfter > 0 {
		return ae.RetryAfter
	}
	return a.cfg.Backoff * time.Duration(attempt)
}

func (a *LLMAnalyzer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (a *LLMAnalyzer) deadlineErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.LLMTimeout(a.cfg.Model, a.cfg.Timeout)
	}
	return apperr.Cancelled("inference call")
}

func (a *LLMAnalyzer) methodTag(fallback bool) string {
	base := "phase2"
	if a.phase == domain.PhaseLargeLLM {
		base = "phase3"
	}
	if fallback {
		return base + "_fallback"
	}
	return base + "_llm"
}
