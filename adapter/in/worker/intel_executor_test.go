package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailintel_server/core/domain"
	"mailintel_server/core/port/out"
	"mailintel_server/pkg/apperr"
)

// memRepo is a minimal in-memory EmailRepository for executor tests.
type memRepo struct {
	mu      sync.Mutex
	queue   []*domain.EmailRecord
	states  map[string]domain.RecordState
	results map[string]*domain.AnalysisResult
	claimed map[string]string
}

func newMemRepo(records ...*domain.EmailRecord) *memRepo {
	r := &memRepo{
		states:  make(map[string]domain.RecordState),
		results: make(map[string]*domain.AnalysisResult),
		claimed: make(map[string]string),
	}
	for _, rec := range records {
		r.queue = append(r.queue, rec)
		r.states[rec.ID] = domain.StatePending
	}
	return r
}

func (r *memRepo) ClaimBatch(ctx context.Context, workerID string, limit int) ([]*domain.EmailRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := limit
	if n > len(r.queue) {
		n = len(r.queue)
	}
	batch := r.queue[:n]
	r.queue = r.queue[n:]
	for _, rec := range batch {
		r.states[rec.ID] = domain.StateProcessing
		r.claimed[rec.ID] = workerID
	}
	return batch, nil
}

func (r *memRepo) WriteResult(ctx context.Context, emailID string, result *domain.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[emailID] = domain.StateAnalyzed
	r.results[emailID] = result
	return nil
}

func (r *memRepo) MarkState(ctx context.Context, emailID string, state domain.RecordState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[emailID] = state
	return nil
}

func (r *memRepo) ReleaseProcessing(ctx context.Context, workerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	released := 0
	for id, state := range r.states {
		if state == domain.StateProcessing && r.claimed[id] == workerID {
			r.states[id] = domain.StatePending
			released++
		}
	}
	return released, nil
}

func (r *memRepo) state(id string) domain.RecordState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id]
}

func (r *memRepo) Ingest(ctx context.Context, emails []*domain.Email) (int, error) { return 0, nil }
func (r *memRepo) SetChain(ctx context.Context, emailID, chainID string, score float64, bucket domain.Completeness, phase int) error {
	return nil
}
func (r *memRepo) RecoverOrphans(ctx context.Context, grace time.Duration) (int, error) {
	return 0, nil
}
func (r *memRepo) PendingCount(ctx context.Context) (int, error) { return len(r.queue), nil }
func (r *memRepo) ListUngrouped(ctx context.Context, limit int) ([]*domain.Email, error) {
	return nil, nil
}
func (r *memRepo) ListByChain(ctx context.Context, chainID string) ([]*domain.Email, error) {
	return nil, nil
}
func (r *memRepo) WindowStats(ctx context.Context, window time.Duration) (*out.WindowStats, error) {
	return &out.WindowStats{}, nil
}

// scriptedService maps email ids to analysis outcomes.
type scriptedService struct {
	mu   sync.Mutex
	errs map[string]error
}

func (s *scriptedService) Analyze(ctx context.Context, rec *domain.EmailRecord) (*domain.AnalysisResult, error) {
	s.mu.Lock()
	err := s.errs[rec.ID]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.AnalysisResult{
		EmailID:   rec.ID,
		PhaseUsed: rec.RecommendedPhase,
		Method:    "phase1_rules",
		Summary:   "ok",
	}, nil
}

func record(id string, phase int) *domain.EmailRecord {
	return &domain.EmailRecord{
		Email:            domain.Email{ID: id, Subject: "s", Body: "b"},
		State:            domain.StatePending,
		RecommendedPhase: phase,
	}
}

func testConfig() ExecutorConfig {
	return ExecutorConfig{
		WorkerID:             "test-worker",
		Workers:              2,
		BatchSize:            3,
		DrainTimeout:         5 * time.Second,
		FailureRateThreshold: 0.2,
		FailureWindow:        50,
		EmailTimeout:         time.Second,
		LargeEmailTimeout:    time.Second,
	}
}

func TestExecutorDrainsQueue(t *testing.T) {
	repo := newMemRepo(
		record("e1", 1), record("e2", 1), record("e3", 2),
		record("e4", 2), record("e5", 3),
	)
	svc := &scriptedService{errs: map[string]error{}}
	e := NewExecutor(testConfig(), repo, svc, zerolog.Nop())

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 5 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.ByPhase[1] != 2 || summary.ByPhase[2] != 2 || summary.ByPhase[3] != 1 {
		t.Errorf("by_phase = %v", summary.ByPhase)
	}
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if repo.state(id) != domain.StateAnalyzed {
			t.Errorf("state[%s] = %s, want analyzed", id, repo.state(id))
		}
	}
}

func TestExecutorMapsErrorsToTerminalStates(t *testing.T) {
	repo := newMemRepo(record("ok", 1), record("broken", 2), record("slow", 2))
	svc := &scriptedService{errs: map[string]error{
		"broken": apperr.QualityGateFail(10, 100),
		"slow":   apperr.LLMTimeout("m", time.Second),
	}}
	e := NewExecutor(testConfig(), repo, svc, zerolog.Nop())

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 1 || summary.Failed != 1 || summary.TimedOut != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if repo.state("ok") != domain.StateAnalyzed {
		t.Errorf("ok state = %s", repo.state("ok"))
	}
	if repo.state("broken") != domain.StateFailed {
		t.Errorf("broken state = %s, want failed", repo.state("broken"))
	}
	if repo.state("slow") != domain.StateTimeout {
		t.Errorf("slow state = %s, want timeout", repo.state("slow"))
	}
}

func TestExecutorCancelledJobIsRequeued(t *testing.T) {
	repo := newMemRepo(record("victim", 1))
	svc := &scriptedService{errs: map[string]error{
		"victim": apperr.Cancelled("analysis"),
	}}
	e := NewExecutor(testConfig(), repo, svc, zerolog.Nop())

	summary, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 0 || summary.Failed != 0 || summary.TimedOut != 0 {
		t.Errorf("summary = %+v", summary)
	}
	// Cancelled work is not terminal; the drain release requeues it.
	if repo.state("victim") != domain.StatePending {
		t.Errorf("victim state = %s, want pending", repo.state("victim"))
	}
}

func TestExecutorStopsOnContextCancel(t *testing.T) {
	// A large backlog plus a cancelled context: the run must stop early
	// and requeue whatever it claimed but never finished.
	var records []*domain.EmailRecord
	for i := 0; i < 100; i++ {
		records = append(records, record(fmt.Sprintf("e%03d", i), 1))
	}
	repo := newMemRepo(records...)
	svc := &scriptedService{errs: map[string]error{}}
	cfg := testConfig()
	cfg.RateFloor = 50 * time.Millisecond // force the feeder to pace
	e := NewExecutor(cfg, repo, svc, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	for id, state := range repo.states {
		if state == domain.StateProcessing {
			t.Errorf("row %s left processing after drain", id)
		}
	}
}
