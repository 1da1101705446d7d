// Package in defines inbound ports (driving ports) for the application.
package in

import (
	"context"

	"mailintel_server/core/domain"
)

// AnalysisService is the inbound port the executor drives: one email in,
// one quality-gated result out. Implementations never return an error for
// per-email analysis problems; those degrade into fallback results. An
// error here means the email could not reach a terminal state at all.
type AnalysisService interface {
	Analyze(ctx context.Context, rec *domain.EmailRecord) (*domain.AnalysisResult, error)
}

// ChainService groups ungrouped emails into chains and persists routing
// hints before the executor starts claiming.
type ChainService interface {
	BuildChains(ctx context.Context) (int, error)
}

// MonitorService runs one quality evaluation cycle.
type MonitorService interface {
	RunOnce(ctx context.Context) (*domain.QualityReport, []*domain.QualityAlert, error)
}
