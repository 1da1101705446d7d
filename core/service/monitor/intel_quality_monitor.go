// Package monitor evaluates rolling analysis quality and raises alerts
// when aggregate metrics breach their configured thresholds.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailintel_server/config"
	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
)

// Monitor computes a QualityReport from the trailing window and checks it
// against thresholds. Alert delivery is best effort: a failing sink is
// logged and the cycle continues.
type Monitor struct {
	repo       out.EmailRepository
	sinks      []out.AlertSink
	archive    out.ReportArchive
	cache      out.ReportCache
	window     time.Duration
	thresholds config.MonitorThresholds
	log        zerolog.Logger
}

// New builds a Monitor. archive and cache may be nil; sinks may be empty.
func New(repo out.EmailRepository, sinks []out.AlertSink, archive out.ReportArchive, cache out.ReportCache, window time.Duration, thresholds config.MonitorThresholds, log zerolog.Logger) *Monitor {
	if window <= 0 {
		window = time.Hour
	}
	return &Monitor{
		repo:       repo,
		sinks:      sinks,
		archive:    archive,
		cache:      cache,
		window:     window,
		thresholds: thresholds,
		log:        log.With().Str("component", "quality_monitor").Logger(),
	}
}

// RunOnce performs one evaluation cycle: aggregate, grade, publish.
// An empty window produces a report with zero sample size and no alerts;
// rates over nothing mean nothing.
func (m *Monitor) RunOnce(ctx context.Context) (*domain.QualityReport, []*domain.QualityAlert, error) {
	stats, err := m.repo.WindowStats(ctx, m.window)
	if err != nil {
		return nil, nil, fmt.Errorf("window stats: %w", err)
	}

	report := m.buildReport(stats)
	alerts := m.grade(report)

	if m.cache != nil {
		if err := m.cache.SetLatest(ctx, report); err != nil {
			m.log.Warn().Err(err).Msg("report cache write failed")
		}
	}
	if m.archive != nil {
		if err := m.archive.Append(ctx, report, alerts); err != nil {
			m.log.Warn().Err(err).Msg("report archive write failed")
		}
	}
	for _, alert := range alerts {
		m.log.Warn().
			Str("metric", alert.Metric).
			Float64("value", alert.Value).
			Float64("threshold", alert.Threshold).
			Msg("quality threshold breached")
		for _, sink := range m.sinks {
			if err := sink.Raise(ctx, alert); err != nil {
				m.log.Warn().Err(err).Str("metric", alert.Metric).Msg("alert delivery failed")
			}
		}
	}

	m.log.Info().
		Int("sample_size", report.SampleSize).
		Float64("avg_confidence", report.AvgConfidence).
		Float64("error_rate", report.ErrorRate).
		Int("alerts", len(alerts)).
		Msg("quality cycle complete")
	return report, alerts, nil
}

// Run loops RunOnce on the interval until the context ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				m.log.Error().Err(err).Msg("quality cycle failed")
			}
		}
	}
}

func (m *Monitor) buildReport(stats *out.WindowStats) *domain.QualityReport {
	report := &domain.QualityReport{
		WindowHours: int(m.window / time.Hour),
		SampleSize:  stats.Analyzed,
		GeneratedAt: time.Now().UTC(),
	}
	total := stats.Analyzed + stats.Failed + stats.TimedOut
	if total > 0 {
		report.ErrorRate = float64(stats.Failed+stats.TimedOut) / float64(total)
	}
	if stats.Analyzed == 0 {
		return report
	}
	n := float64(stats.Analyzed)
	report.AvgSummaryLen = float64(stats.SumSummaryLen) / n
	report.AvgConfidence = stats.SumConfidence / n
	report.AvgActionsPerEmail = float64(stats.SumActions) / n
	report.AvgEntitiesPerEmail = float64(stats.SumEntities) / n
	report.HighPriorityRate = float64(stats.HighPriority) / n
	report.BusinessValueRate = float64(stats.WithValue) / n
	report.AvgProcessingMS = float64(stats.SumProcessingMS) / n
	return report
}

// grade checks each metric against its threshold. Minimum-rate checks are
// skipped on an empty sample; the error-rate ceiling still applies because
// failures alone can empty the window.
func (m *Monitor) grade(report *domain.QualityReport) []*domain.QualityAlert {
	t := m.thresholds
	var alerts []*domain.QualityAlert

	if report.ErrorRate > t.MaxErrorRate {
		alerts = append(alerts, m.alert("error_rate", report.ErrorRate, t.MaxErrorRate,
			"failure and timeout share exceeds the ceiling"))
	}
	if report.SampleSize == 0 {
		return alerts
	}
	if report.AvgSummaryLen < t.MinAvgSummaryLen {
		alerts = append(alerts, m.alert("avg_summary_len", report.AvgSummaryLen, t.MinAvgSummaryLen,
			"summaries are running short, model output may be degrading"))
	}
	if report.AvgConfidence < t.MinAvgConfidence {
		alerts = append(alerts, m.alert("avg_confidence", report.AvgConfidence, t.MinAvgConfidence,
			"average confidence dropped below the floor"))
	}
	if report.AvgActionsPerEmail < t.MinAvgActions {
		alerts = append(alerts, m.alert("avg_actions_per_email", report.AvgActionsPerEmail, t.MinAvgActions,
			"too few actionable items are being produced"))
	}
	if report.AvgEntitiesPerEmail < t.MinAvgEntities {
		alerts = append(alerts, m.alert("avg_entities_per_email", report.AvgEntitiesPerEmail, t.MinAvgEntities,
			"entity extraction yield dropped below the floor"))
	}
	if report.AvgProcessingMS > t.MaxAvgProcessingMS {
		alerts = append(alerts, m.alert("avg_processing_ms", report.AvgProcessingMS, t.MaxAvgProcessingMS,
			"average processing time exceeds the ceiling"))
	}
	if report.HighPriorityRate < t.MinHighPriorityRate {
		alerts = append(alerts, m.alert("high_priority_rate", report.HighPriorityRate, t.MinHighPriorityRate,
			"suspiciously few high priority emails, priority rules may be broken"))
	}
	if report.BusinessValueRate < t.MinBusinessValueRate {
		alerts = append(alerts, m.alert("business_value_rate", report.BusinessValueRate, t.MinBusinessValueRate,
			"suspiciously few emails carry financial value"))
	}
	return alerts
}

func (m *Monitor) alert(metric string, value, threshold float64, message string) *domain.QualityAlert {
	return &domain.QualityAlert{
		ID:        uuid.NewString(),
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Message:   message,
		RaisedAt:  time.Now().UTC(),
	}
}
