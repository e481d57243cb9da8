package validationsupport

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Outcome classifies a single chain dispatch.
type Outcome string

const (
	// OutcomeAnswered means a module produced a result.
	OutcomeAnswered Outcome = "answered"
	// OutcomeNoOpinion means every module declined.
	OutcomeNoOpinion Outcome = "no_opinion"
	// OutcomeError means a module failed the operation.
	OutcomeError Outcome = "error"
)

// Metrics tracks chain dispatch statistics using lock-free atomic operations.
// All methods are safe for concurrent use.
type Metrics struct {
	dispatchTotal atomic.Uint64

	// Cache metrics, fed by caching modules
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64

	operations sync.Map // map[string]*operationMetrics
}

type operationMetrics struct {
	invocations atomic.Uint64
	answered    atomic.Uint64
	noOpinion   atomic.Uint64
	errors      atomic.Uint64
	totalTime   atomic.Uint64 // nanoseconds
	maxTime     atomic.Uint64 // nanoseconds
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordOperation records one dispatch of a chain operation.
func (m *Metrics) RecordOperation(operation string, duration time.Duration, outcome Outcome) {
	m.dispatchTotal.Add(1)

	om := m.getOrCreate(operation)
	om.invocations.Add(1)
	switch outcome {
	case OutcomeAnswered:
		om.answered.Add(1)
	case OutcomeNoOpinion:
		om.noOpinion.Add(1)
	case OutcomeError:
		om.errors.Add(1)
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations are non-negative
	om.totalTime.Add(ns)
	for {
		old := om.maxTime.Load()
		if ns <= old || om.maxTime.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

func (m *Metrics) getOrCreate(name string) *operationMetrics {
	if v, ok := m.operations.Load(name); ok {
		return v.(*operationMetrics)
	}
	actual, _ := m.operations.LoadOrStore(name, &operationMetrics{})
	return actual.(*operationMetrics)
}

// DispatchTotal returns the number of chain dispatches across all operations.
func (m *Metrics) DispatchTotal() uint64 {
	return m.dispatchTotal.Load()
}

// CacheHits returns the total cache hits.
func (m *Metrics) CacheHits() uint64 {
	return m.cacheHits.Load()
}

// CacheMisses returns the total cache misses.
func (m *Metrics) CacheMisses() uint64 {
	return m.cacheMisses.Load()
}

// CacheHitRate returns the cache hit rate (0.0 to 1.0).
func (m *Metrics) CacheHitRate() float64 {
	hits := m.cacheHits.Load()
	total := hits + m.cacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// OperationStats is a point-in-time view of one operation.
type OperationStats struct {
	Name        string        `json:"name"`
	Invocations uint64        `json:"invocations"`
	Answered    uint64        `json:"answered"`
	NoOpinion   uint64        `json:"no_opinion"`
	Errors      uint64        `json:"errors"`
	TotalTime   time.Duration `json:"total_time_ns"`
	AvgTime     time.Duration `json:"avg_time_ns"`
	MaxTime     time.Duration `json:"max_time_ns"`
}

// OperationStats returns statistics for one operation.
func (m *Metrics) OperationStats(name string) (OperationStats, bool) {
	v, ok := m.operations.Load(name)
	if !ok {
		return OperationStats{Name: name}, false
	}
	return v.(*operationMetrics).stats(name), true
}

// AllOperationStats returns statistics for every recorded operation, sorted by name.
func (m *Metrics) AllOperationStats() []OperationStats {
	var stats []OperationStats
	m.operations.Range(func(key, value any) bool {
		stats = append(stats, value.(*operationMetrics).stats(key.(string)))
		return true
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

func (om *operationMetrics) stats(name string) OperationStats {
	invocations := om.invocations.Load()
	total := om.totalTime.Load()
	var avg time.Duration
	if invocations > 0 {
		avg = time.Duration(total / invocations) //nolint:gosec // nanoseconds within int64 range
	}
	return OperationStats{
		Name:        name,
		Invocations: invocations,
		Answered:    om.answered.Load(),
		NoOpinion:   om.noOpinion.Load(),
		Errors:      om.errors.Load(),
		TotalTime:   time.Duration(total),              //nolint:gosec // nanoseconds within int64 range
		AvgTime:     avg,
		MaxTime:     time.Duration(om.maxTime.Load()), //nolint:gosec // nanoseconds within int64 range
	}
}

// Snapshot represents a point-in-time snapshot of all metrics.
type Snapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	DispatchTotal uint64           `json:"dispatch_total"`
	CacheHits     uint64           `json:"cache_hits"`
	CacheMisses   uint64           `json:"cache_misses"`
	CacheHitRate  float64          `json:"cache_hit_rate"`
	Operations    []OperationStats `json:"operations,omitempty"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:     time.Now(),
		DispatchTotal: m.dispatchTotal.Load(),
		CacheHits:     m.cacheHits.Load(),
		CacheMisses:   m.cacheMisses.Load(),
		CacheHitRate:  m.CacheHitRate(),
		Operations:    m.AllOperationStats(),
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.dispatchTotal.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.operations.Range(func(key, _ any) bool {
		m.operations.Delete(key)
		return true
	})
}
