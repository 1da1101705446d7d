// Package alerting delivers quality alerts to their destinations.
package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
)

// LogSink writes alerts to the structured log. Always configured; the ops
// log is the alert channel of last resort.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink builds the sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "alert_log").Logger()}
}

// Raise logs the alert at error level.
func (s *LogSink) Raise(ctx context.Context, alert *domain.QualityAlert) error {
	s.log.Error().
		Str("alert_id", alert.ID).
		Str("metric", alert.Metric).
		Float64("value", alert.Value).
		Float64("threshold", alert.Threshold).
		Time("raised_at", alert.RaisedAt).
		Msg(alert.Message)
	return nil
}
