// Package monitoring tracks in-process request and scoring metrics and exposes
// them to the stats endpoint.
package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds the service counters. All increments are safe for concurrent
// use by handlers.
type Metrics struct {
	RequestCount  int64
	ErrorCount    int64
	BatchesScored int64
	PersonsScored int64
	CacheHits     int64
	CacheMisses   int64
	StartTime     time.Time

	// Last 1000 response times, for percentile reporting.
	responseTimes []time.Duration
	responseMu    sync.RWMutex

	statusCounts map[int]int64
	statusMu     sync.RWMutex
}

// NewMetrics creates a metrics instance anchored at the current time.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:     time.Now(),
		responseTimes: make([]time.Duration, 0, 1000),
		statusCounts:  make(map[int]int64),
	}
}

func (m *Metrics) IncrementRequest() { atomic.AddInt64(&m.RequestCount, 1) }
func (m *Metrics) IncrementError()   { atomic.AddInt64(&m.ErrorCount, 1) }

// RecordBatch records one completed scoring run and its profile count.
func (m *Metrics) RecordBatch(persons int) {
	atomic.AddInt64(&m.BatchesScored, 1)
	atomic.AddInt64(&m.PersonsScored, int64(persons))
}

func (m *Metrics) IncrementCacheHit()  { atomic.AddInt64(&m.CacheHits, 1) }
func (m *Metrics) IncrementCacheMiss() { atomic.AddInt64(&m.CacheMisses, 1) }

// RecordResponseTime keeps a sliding window of recent response times.
func (m *Metrics) RecordResponseTime(d time.Duration) {
	m.responseMu.Lock()
	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
	m.responseMu.Unlock()
}

// RecordStatus counts one response by its HTTP status code.
func (m *Metrics) RecordStatus(code int) {
	m.statusMu.Lock()
	m.statusCounts[code]++
	m.statusMu.Unlock()
}

// percentile returns the p-th percentile of the recent response times, in
// milliseconds.
func (m *Metrics) percentile(p float64) float64 {
	m.responseMu.RLock()
	defer m.responseMu.RUnlock()

	if len(m.responseTimes) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.responseTimes))
	copy(sorted, m.responseTimes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(p / 100 * float64(len(sorted)-1))
	return float64(sorted[idx].Microseconds()) / 1000
}

// Snapshot returns the current counters as a flat map for JSON rendering.
func (m *Metrics) Snapshot() map[string]interface{} {
	m.statusMu.RLock()
	byStatus := make(map[int]int64, len(m.statusCounts))
	for code, n := range m.statusCounts {
		byStatus[code] = n
	}
	m.statusMu.RUnlock()

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.StartTime).Seconds(),
		"requests":           atomic.LoadInt64(&m.RequestCount),
		"errors":             atomic.LoadInt64(&m.ErrorCount),
		"batches_scored":     atomic.LoadInt64(&m.BatchesScored),
		"persons_scored":     atomic.LoadInt64(&m.PersonsScored),
		"cache_hits":         atomic.LoadInt64(&m.CacheHits),
		"cache_misses":       atomic.LoadInt64(&m.CacheMisses),
		"response_ms_p50":    m.percentile(50),
		"response_ms_p95":    m.percentile(95),
		"response_ms_p99":    m.percentile(99),
		"requests_by_status": byStatus,
	}
}
