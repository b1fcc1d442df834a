package progress

import (
	"sync"
	"time"
)

// Stats collects per-chunk latencies for the summary logged after a transfer.
type Stats struct {
	mu      sync.Mutex
	count   int64
	sum     time.Duration
	slowest time.Duration
}

// NewStats ...
func NewStats() *Stats {
	return &Stats{}
}

// Observe records how long one chunk took.
func (s *Stats) Observe(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += d
	if d > s.slowest {
		s.slowest = d
	}
}

// Average returns the mean chunk latency, or 0 before the first observation.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return 0
	}
	return s.sum / time.Duration(s.count)
}

// Slowest ...
func (s *Stats) Slowest() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slowest
}

// Count returns the number of observed chunks.
func (s *Stats) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
