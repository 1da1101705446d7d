// Package out defines outbound ports (driven ports) for the application.
// These interfaces represent dependencies that the application needs.
package out

import (
	"context"
	"time"

	"mailintel_server/core/domain"
)

// EmailRepository is the outbound port for email pipeline state.
// All mutation happens inside single transactions; a claimed batch is
// owned by exactly one worker until a terminal state is written.
type EmailRepository interface {
	// Ingest upserts raw emails as pending rows. Rows already analyzed
	// are left untouched so re-runs stay idempotent.
	Ingest(ctx context.Context, emails []*domain.Email) (int, error)

	// ClaimBatch selects up to limit rows in state pending/failed/timeout,
	// timeout-first then chain completeness descending, and atomically
	// marks them processing under workerID.
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]*domain.EmailRecord, error)

	// WriteResult stores the serialized analysis for one email and moves
	// the row to analyzed. All columns for the row commit atomically.
	WriteResult(ctx context.Context, emailID string, result *domain.AnalysisResult) error

	// MarkState moves a row to a terminal or requeue state without a result.
	MarkState(ctx context.Context, emailID string, state domain.RecordState) error

	// SetChain records chain assignment and routing for one email.
	SetChain(ctx context.Context, emailID, chainID string, score float64, bucket domain.Completeness, phase int) error

	// ReleaseProcessing resets this worker's in-flight rows to pending.
	// Called on drain so the next run picks them up.
	ReleaseProcessing(ctx context.Context, workerID string) (int, error)

	// RecoverOrphans resets processing rows older than grace to pending.
	// Called once at startup before workers begin claiming.
	RecoverOrphans(ctx context.Context, grace time.Duration) (int, error)

	// PendingCount reports how many rows are still claimable.
	PendingCount(ctx context.Context) (int, error)

	// ListUngrouped returns emails that have no chain assignment yet.
	ListUngrouped(ctx context.Context, limit int) ([]*domain.Email, error)

	// ListByChain returns the emails already assigned to a chain, oldest
	// first. Used when regrouping pulls new members into a stored chain.
	ListByChain(ctx context.Context, chainID string) ([]*domain.Email, error)

	// WindowStats aggregates analyzed and failed rows in the trailing
	// window for the quality monitor.
	WindowStats(ctx context.Context, window time.Duration) (*WindowStats, error)
}

// WindowStats is the raw aggregate the quality monitor computes rates from.
type WindowStats struct {
	Analyzed         int     `db:"analyzed"`
	Failed           int     `db:"failed"`
	TimedOut         int     `db:"timed_out"`
	SumSummaryLen    int     `db:"sum_summary_len"`
	SumConfidence    float64 `db:"sum_confidence"`
	SumActions       int     `db:"sum_actions"`
	SumEntities      int     `db:"sum_entities"`
	HighPriority     int     `db:"high_priority"`
	WithValue        int     `db:"with_value"`
	SumProcessingMS  int64   `db:"sum_processing_ms"`
}
