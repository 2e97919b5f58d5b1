package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// metrics collects retrieval/storage latency samples and tier cache
// hit counters. Sample history is bounded; maintenance trims it back to
// the configured limit.
type metrics struct {
	mu             sync.Mutex
	retrievalNanos []int64
	storageNanos   []int64
	limit          int

	hits   atomic.Int64
	misses atomic.Int64
}

func newMetrics(limit int) *metrics {
	return &metrics{limit: limit}
}

func (m *metrics) recordRetrieval(d time.Duration) {
	m.mu.Lock()
	m.retrievalNanos = append(m.retrievalNanos, d.Nanoseconds())
	if len(m.retrievalNanos) > 2*m.limit {
		m.retrievalNanos = trimSamples(m.retrievalNanos, m.limit)
	}
	m.mu.Unlock()
}

func (m *metrics) recordStorage(d time.Duration) {
	m.mu.Lock()
	m.storageNanos = append(m.storageNanos, d.Nanoseconds())
	if len(m.storageNanos) > 2*m.limit {
		m.storageNanos = trimSamples(m.storageNanos, m.limit)
	}
	m.mu.Unlock()
}

func (m *metrics) hit()  { m.hits.Add(1) }
func (m *metrics) miss() { m.misses.Add(1) }

// trim discards all but the most recent limit samples.
func (m *metrics) trim() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	trimmed := 0
	if n := len(m.retrievalNanos) - m.limit; n > 0 {
		m.retrievalNanos = trimSamples(m.retrievalNanos, m.limit)
		trimmed += n
	}
	if n := len(m.storageNanos) - m.limit; n > 0 {
		m.storageNanos = trimSamples(m.storageNanos, m.limit)
		trimmed += n
	}
	return trimmed
}

func (m *metrics) avgRetrieval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.retrievalNanos) == 0 {
		return 0
	}
	var total int64
	for _, n := range m.retrievalNanos {
		total += n
	}
	return time.Duration(total / int64(len(m.retrievalNanos)))
}

func (m *metrics) hitRate() float64 {
	hits := m.hits.Load()
	total := hits + m.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func trimSamples(samples []int64, limit int) []int64 {
	kept := make([]int64, limit)
	copy(kept, samples[len(samples)-limit:])
	return kept
}
