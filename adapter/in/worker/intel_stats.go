package worker

import (
	"sync"
	"time"
)

// Stats tracks executor progress. A mutex keeps the snapshot consistent;
// counters and the failure window change together on every outcome.
type Stats struct {
	mu sync.Mutex

	started   time.Time
	processed int
	failed    int
	timedOut  int
	byPhase   map[int]int

	// failure window, a ring of recent outcomes
	window  []bool
	windowN int
	next    int
	filled  bool
}

// NewStats builds a Stats with the given failure window size.
func NewStats(windowSize int) *Stats {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Stats{
		started: time.Now(),
		byPhase: make(map[int]int),
		window:  make([]bool, windowSize),
		windowN: windowSize,
	}
}

// RecordSuccess counts one analyzed email.
func (s *Stats) RecordSuccess(phase int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.byPhase[phase]++
	s.push(false)
}

// RecordFailure counts one failed email.
func (s *Stats) RecordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	s.push(true)
}

// RecordTimeout counts one timed out email. Timeouts count as failures in
// the window; a struggling model server should trip the cooldown too.
func (s *Stats) RecordTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timedOut++
	s.push(true)
}

func (s *Stats) push(failure bool) {
	s.window[s.next] = failure
	s.next = (s.next + 1) % s.windowN
	if s.next == 0 {
		s.filled = true
	}
}

// FailureRate returns the failure share of the recent window. Below ten
// outcomes the rate reads as zero so a cold start cannot trip the cooldown.
func (s *Stats) FailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.windowN
	if !s.filled {
		n = s.next
	}
	if n < 10 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if s.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// Summary is a point-in-time snapshot.
type Summary struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	TimedOut  int         `json:"timed_out"`
	ByPhase   map[int]int `json:"by_phase"`
	Elapsed   string      `json:"elapsed"`
	PerMinute float64     `json:"per_minute"`
}

// Snapshot returns the current totals.
func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPhase := make(map[int]int, len(s.byPhase))
	for k, v := range s.byPhase {
		byPhase[k] = v
	}
	elapsed := time.Since(s.started)
	perMinute := 0.0
	if mins := elapsed.Minutes(); mins > 0 {
		perMinute = float64(s.processed) / mins
	}
	return Summary{
		Processed: s.processed,
		Failed:    s.failed,
		TimedOut:  s.timedOut,
		ByPhase:   byPhase,
		Elapsed:   elapsed.Round(time.Second).String(),
		PerMinute: perMinute,
	}
}
