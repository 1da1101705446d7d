// Package worker drives the analysis pipeline: it claims batches from the
// store, fans them out to a worker group, and writes terminal states back.
package worker

import (
	"context"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/in"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// ExecutorConfig holds the executor knobs.
type ExecutorConfig struct {
	WorkerID             string
	Workers              int
	BatchSize            int
	DrainTimeout         time.Duration
	RateFloor            time.Duration
	FailureBackoff       time.Duration
	FailureRateThreshold float64
	FailureWindow        int
	EmailTimeout         time.Duration // per-email deadline for phases 1 and 2
	LargeEmailTimeout    time.Duration // per-email deadline for phase 3
}

// Executor runs the claim-analyze-persist loop on a go-pkgz worker group.
// One claimed record is one pool job; the pool bounds parallelism at
// Workers while the claim feeder keeps it supplied batch by batch.
type Executor struct {
	cfg     ExecutorConfig
	repo    out.EmailRepository
	service in.AnalysisService
	stats   *Stats
	log     zerolog.Logger
}

// NewExecutor builds the executor.
func NewExecutor(cfg ExecutorConfig, repo out.EmailRepository, service in.AnalysisService, log zerolog.Logger) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 20
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 60 * time.Second
	}
	if cfg.LargeEmailTimeout <= 0 {
		cfg.LargeEmailTimeout = 90 * time.Second
	}
	return &Executor{
		cfg:     cfg,
		repo:    repo,
		service: service,
		stats:   NewStats(cfg.FailureWindow),
		log:     log.With().Str("component", "executor").Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Stats exposes the live counters for the ops API.
func (e *Executor) Stats() *Stats {
	return e.stats
}

// Run processes the queue until it drains or ctx is cancelled, then
// releases any still-claimed rows and returns the run summary.
func (e *Executor) Run(ctx context.Context) (Summary, error) {
	grp := pool.New[*domain.EmailRecord](e.cfg.Workers, pool.WorkerFunc[*domain.EmailRecord](e.process)).
		WithWorkerChanSize(e.cfg.BatchSize).
		WithContinueOnError()
	if err := grp.Go(ctx); err != nil {
		return e.stats.Snapshot(), err
	}

	e.log.Info().
		Int("workers", e.cfg.Workers).
		Int("batch_size", e.cfg.BatchSize).
		Msg("executor started")

	feedErr := e.feed(ctx, grp)

	closeCtx, cancel := context.WithTimeout(context.Background(), e.cfg.DrainTimeout)
	defer cancel()
	if err := grp.Close(closeCtx); err != nil && feedErr == nil {
		e.log.Warn().Err(err).Msg("worker group close")
	}

	// Rows this worker claimed but never finished go back to pending.
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer releaseCancel()
	if released, err := e.repo.ReleaseProcessing(releaseCtx, e.cfg.WorkerID); err != nil {
		e.log.Error().Err(err).Msg("release processing rows")
	} else if released > 0 {
		e.log.Info().Int("released", released).Msg("unfinished claims requeued")
	}

	summary := e.stats.Snapshot()
	e.log.Info().
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("timed_out", summary.TimedOut).
		Str("elapsed", summary.Elapsed).
		Msg("executor finished")
	return summary, feedErr
}

// feed claims batches and submits them until the queue drains or ctx ends.
// A rate floor spaces claim cycles; a failure spike pauses claiming.
func (e *Executor) feed(ctx context.Context, grp *pool.WorkerGroup[*domain.EmailRecord]) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if rate := e.stats.FailureRate(); rate >= e.cfg.FailureRateThreshold && e.cfg.FailureRateThreshold > 0 {
			e.log.Warn().
				Float64("failure_rate", rate).
				Dur("backoff", e.cfg.FailureBackoff).
				Msg("failure spike, pausing claims")
			if !sleepCtx(ctx, e.cfg.FailureBackoff) {
				return nil
			}
		}

		cycleStart := time.Now()
		records, err := e.repo.ClaimBatch(ctx, e.cfg.WorkerID, e.cfg.BatchSize)
		if err != nil {
			if apperr.IsCode(err, apperr.CodeCancelled) {
				return nil
			}
			e.log.Error().Err(err).Msg("claim batch failed")
			if !sleepCtx(ctx, 5*time.Second) {
				return nil
			}
			continue
		}
		if len(records) == 0 {
			// All claimable rows are gone; in-flight jobs finish in Close.
			return nil
		}

		for _, rec := range records {
			grp.Submit(rec)
		}
		e.log.Debug().Int("claimed", len(records)).Msg("batch submitted")

		if e.cfg.RateFloor > 0 {
			if wait := e.cfg.RateFloor - time.Since(cycleStart); wait > 0 {
				if !sleepCtx(ctx, wait) {
					return nil
				}
			}
		}
	}
}

// process is the pool worker body: one email, one terminal state.
func (e *Executor) process(ctx context.Context, rec *domain.EmailRecord) error {
	deadline := e.cfg.EmailTimeout
	if rec.RecommendedPhase == domain.PhaseLargeLLM {
		deadline = e.cfg.LargeEmailTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := e.service.Analyze(jobCtx, rec)
	if err != nil {
		return e.finishFailed(ctx, rec, err)
	}

	if err := e.repo.WriteResult(ctx, rec.ID, result); err != nil {
		e.log.Error().Err(err).Str("email_id", rec.ID).Msg("write result failed")
		e.stats.RecordFailure()
		e.markState(ctx, rec.ID, domain.StateFailed)
		return err
	}

	e.stats.RecordSuccess(result.PhaseUsed)
	e.log.Debug().
		Str("email_id", rec.ID).
		Int("phase", result.PhaseUsed).
		Str("method", result.Method).
		Int64("ms", result.ProcessingTimeMS).
		Msg("email analyzed")
	return nil
}

// finishFailed maps an analysis error to the record's terminal state.
func (e *Executor) finishFailed(ctx context.Context, rec *domain.EmailRecord, err error) error {
	switch {
	case apperr.IsCode(err, apperr.CodeLLMTimeout):
		e.stats.RecordTimeout()
		e.log.Warn().Str("email_id", rec.ID).Msg("analysis timed out")
		e.markState(ctx, rec.ID, domain.StateTimeout)
	case apperr.IsCode(err, apperr.CodeCancelled):
		// Shutdown mid-flight; the row is requeued by the drain release.
		return nil
	default:
		e.stats.RecordFailure()
		e.log.Error().Err(err).Str("email_id", rec.ID).Msg("analysis failed")
		e.markState(ctx, rec.ID, domain.StateFailed)
	}
	return err
}

// markState writes a terminal state, surviving a cancelled job context.
func (e *Executor) markState(ctx context.Context, emailID string, state domain.RecordState) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := e.repo.MarkState(ctx, emailID, state); err != nil {
		e.log.Error().Err(err).Str("email_id", emailID).Str("state", string(state)).Msg("mark state failed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
