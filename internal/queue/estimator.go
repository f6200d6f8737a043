package queue

import (
	"sync"
	"time"
)

// WaitEstimator keeps a rolling window of recent wait-to-assignment
// durations and derives a wait estimate per queue rank. The estimate
// is monotonically non-decreasing in rank for a fixed average.
type WaitEstimator struct {
	mu       sync.Mutex
	samples  []time.Duration
	next     int
	filled   bool
	fallback time.Duration
}

// NewWaitEstimator creates an estimator with the given window size and
// the fallback average used before any assignment has completed.
func NewWaitEstimator(windowSize int, fallback time.Duration) *WaitEstimator {
	if windowSize < 1 {
		windowSize = 1
	}
	return &WaitEstimator{
		samples:  make([]time.Duration, windowSize),
		fallback: fallback,
	}
}

// Record adds one observed wait-to-assignment duration.
func (w *WaitEstimator) Record(wait time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = wait
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

// Average returns the rolling average wait, or the fallback when no
// sample has been recorded yet.
func (w *WaitEstimator) Average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.average()
}

// Estimate returns the estimated wait for an entry with the given
// number of waiting entries strictly ahead of it.
func (w *WaitEstimator) Estimate(rank int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.average() * time.Duration(rank+1)
}

func (w *WaitEstimator) average() time.Duration {
	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return w.fallback
	}
	var sum time.Duration
	for _, s := range w.samples[:n] {
		sum += s
	}
	return sum / time.Duration(n)
}

// SLTracker tracks the service level: the share of calls answered
// within the configured threshold.
type SLTracker struct {
	mu            sync.Mutex
	Threshold     time.Duration
	AnsweredInSL  int
	TotalAnswered int
}

// NewSLTracker creates a tracker for the given answer threshold.
func NewSLTracker(threshold time.Duration) *SLTracker {
	return &SLTracker{Threshold: threshold}
}

// RecordAnswer records a call being answered after waiting for wait.
func (s *SLTracker) RecordAnswer(wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalAnswered++
	if wait <= s.Threshold {
		s.AnsweredInSL++
	}
}

// CurrentSL returns the current service level percentage.
func (s *SLTracker) CurrentSL() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TotalAnswered == 0 {
		return 100.0 // No calls answered yet
	}
	return float64(s.AnsweredInSL) / float64(s.TotalAnswered) * 100.0
}
