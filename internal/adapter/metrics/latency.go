package metrics

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// latencySampler keeps a fixed-size reservoir of latency observations so
// percentiles stay cheap at any request volume. Each observation has an equal
// probability of being in the reservoir once it is full.
type latencySampler struct {
	mu         sync.Mutex
	samples    []int64
	sampleSize int
	count      int64
	sum        int64
}

func newLatencySampler(sampleSize int) *latencySampler {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &latencySampler{
		sampleSize: sampleSize,
		samples:    make([]int64, 0, sampleSize),
	}
}

func (s *latencySampler) Add(value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += value

	if len(s.samples) < s.sampleSize {
		s.samples = append(s.samples, value)
		return
	}
	j := rand.Int64N(s.count) //nolint:gosec // statistical sampling, not security
	if j < int64(s.sampleSize) {
		s.samples[j] = value
	}
}

// Percentiles returns p50/p95/p99 over the current reservoir. Zeroes when
// nothing was observed yet.
func (s *latencySampler) Percentiles() (p50, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) == 0 {
		return 0, 0, 0
	}

	sorted := make([]int64, len(s.samples))
	copy(sorted, s.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := func(pct int) int {
		i := len(sorted) * pct / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return i
	}
	return sorted[idx(50)], sorted[idx(95)], sorted[idx(99)]
}

func (s *latencySampler) Average() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0
	}
	return float64(s.sum) / float64(s.count)
}

func (s *latencySampler) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *latencySampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = s.samples[:0]
	s.count = 0
	s.sum = 0
}
