package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailintel_server/config"
	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
)

type statsRepoStub struct {
	out.EmailRepository
	stats *out.WindowStats
	err   error
}

func (s *statsRepoStub) WindowStats(ctx context.Context, window time.Duration) (*out.WindowStats, error) {
	return s.stats, s.err
}

type sinkStub struct {
	alerts []*domain.QualityAlert
	err    error
}

func (s *sinkStub) Raise(ctx context.Context, alert *domain.QualityAlert) error {
	s.alerts = append(s.alerts, alert)
	return s.err
}

type cacheStub struct {
	latest *domain.QualityReport
}

func (c *cacheStub) SetLatest(ctx context.Context, report *domain.QualityReport) error {
	c.latest = report
	return nil
}

func (c *cacheStub) GetLatest(ctx context.Context) (*domain.QualityReport, error) {
	return c.latest, nil
}

func thresholds() config.MonitorThresholds {
	return config.MonitorThresholds{
		MinAvgSummaryLen:     50,
		MinAvgConfidence:     0.6,
		MinAvgActions:        0.5,
		MinAvgEntities:       1.0,
		MaxErrorRate:         0.15,
		MaxAvgProcessingMS:   30000,
		MinHighPriorityRate:  0.02,
		MinBusinessValueRate: 0.05,
	}
}

// healthyStats clears every threshold with room to spare.
func healthyStats() *out.WindowStats {
	return &out.WindowStats{
		Analyzed:        100,
		Failed:          5,
		TimedOut:        2,
		SumSummaryLen:   9000,
		SumConfidence:   75,
		SumActions:      120,
		SumEntities:     250,
		HighPriority:    10,
		WithValue:       20,
		SumProcessingMS: 450000,
	}
}

func TestMonitorHealthyWindowNoAlerts(t *testing.T) {
	repo := &statsRepoStub{stats: healthyStats()}
	sink := &sinkStub{}
	cache := &cacheStub{}
	m := New(repo, []out.AlertSink{sink}, nil, cache, time.Hour, thresholds(), zerolog.Nop())

	report, alerts, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("alerts = %v, want none", alerts)
	}
	if report.SampleSize != 100 {
		t.Errorf("sample_size = %d, want 100", report.SampleSize)
	}
	if math.Abs(report.AvgConfidence-0.75) > 1e-9 {
		t.Errorf("avg_confidence = %v, want 0.75", report.AvgConfidence)
	}
	// 7 terminal failures out of 107 rows.
	if math.Abs(report.ErrorRate-7.0/107.0) > 1e-9 {
		t.Errorf("error_rate = %v", report.ErrorRate)
	}
	if cache.latest != report {
		t.Error("latest report not cached")
	}
}

func TestMonitorDegradedWindowRaisesAlerts(t *testing.T) {
	stats := healthyStats()
	stats.SumConfidence = 40 // avg 0.4
	stats.SumSummaryLen = 2000
	stats.Failed = 30 // error rate ~0.24
	repo := &statsRepoStub{stats: stats}
	sink := &sinkStub{}
	m := New(repo, []out.AlertSink{sink}, nil, nil, time.Hour, thresholds(), zerolog.Nop())

	_, alerts, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	want := map[string]bool{"error_rate": true, "avg_confidence": true, "avg_summary_len": true}
	got := map[string]bool{}
	for _, a := range alerts {
		got[a.Metric] = true
		if a.ID == "" {
			t.Error("alert id must be set")
		}
	}
	for metric := range want {
		if !got[metric] {
			t.Errorf("missing alert for %s, got %v", metric, got)
		}
	}
	if len(alerts) != len(want) {
		t.Errorf("alerts = %d, want %d: %v", len(alerts), len(want), got)
	}
	if len(sink.alerts) != len(alerts) {
		t.Errorf("sink received %d alerts, want %d", len(sink.alerts), len(alerts))
	}
}

func TestMonitorEmptyWindow(t *testing.T) {
	repo := &statsRepoStub{stats: &out.WindowStats{}}
	m := New(repo, nil, nil, nil, time.Hour, thresholds(), zerolog.Nop())

	report, alerts, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.SampleSize != 0 || len(alerts) != 0 {
		t.Errorf("empty window: sample=%d alerts=%v", report.SampleSize, alerts)
	}
}

func TestMonitorAllFailuresStillAlertsOnErrorRate(t *testing.T) {
	repo := &statsRepoStub{stats: &out.WindowStats{Failed: 10}}
	m := New(repo, nil, nil, nil, time.Hour, thresholds(), zerolog.Nop())

	_, alerts, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Metric != "error_rate" {
		t.Fatalf("alerts = %v, want single error_rate alert", alerts)
	}
	if alerts[0].Value != 1.0 {
		t.Errorf("error_rate = %v, want 1.0", alerts[0].Value)
	}
}

func TestMonitorSinkFailureDoesNotAbort(t *testing.T) {
	stats := healthyStats()
	stats.SumConfidence = 10
	repo := &statsRepoStub{stats: stats}
	broken := &sinkStub{err: errors.New("redis down")}
	healthy := &sinkStub{}
	m := New(repo, []out.AlertSink{broken, healthy}, nil, nil, time.Hour, thresholds(), zerolog.Nop())

	_, alerts, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected alerts")
	}
	if len(healthy.alerts) != len(alerts) {
		t.Errorf("second sink received %d alerts, want %d", len(healthy.alerts), len(alerts))
	}
}

func TestMonitorRepoErrorPropagates(t *testing.T) {
	repo := &statsRepoStub{err: errors.New("store offline")}
	m := New(repo, nil, nil, nil, time.Hour, thresholds(), zerolog.Nop())
	if _, _, err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error from failing repository")
	}
}
