package out

import (
	"context"

	"mailintel_server/core/domain"
)

// AlertSink receives quality alerts. Sinks must be safe for concurrent use;
// delivery failures are logged, never propagated into the monitor loop.
type AlertSink interface {
	Raise(ctx context.Context, alert *domain.QualityAlert) error
}

// ReportArchive stores quality reports for later inspection. Optional;
// a nil archive is skipped by the monitor.
type ReportArchive interface {
	Append(ctx context.Context, report *domain.QualityReport, alerts []*domain.QualityAlert) error
}

// ReportCache keeps the latest quality report available to the ops API.
type ReportCache interface {
	SetLatest(ctx context.Context, report *domain.QualityReport) error
	GetLatest(ctx context.Context) (*domain.QualityReport, error)
}
