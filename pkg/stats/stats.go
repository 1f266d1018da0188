// Package stats holds the atomically-updated counters the filter-stack
// engine accumulates while processing a search: per-filter pass/drop/cache
// counts and a search-wide total. It replaces the single global statistics
// singleton of the source with an explicit handle threaded through the
// state objects that need it.
package stats

import (
	"sync/atomic"
	"time"
)

// Timer measures wall-clock elapsed time for a single filter evaluation.
type Timer struct {
	start time.Time
}

// StartTimer begins timing.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed returns the duration since the timer started.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// FilterStats accumulates counters for a single filter, shared by every
// worker's FilterRunner for that filter.
type FilterStats struct {
	name string

	objectsProcessed    int64
	objectsComputed     int64
	objectsDropped      int64
	objectsCacheDropped int64
	objectsCachePassed  int64
	executionNanos      int64
}

// NewFilterStats creates a zeroed counter set for the named filter.
func NewFilterStats(name string) *FilterStats {
	return &FilterStats{name: name}
}

// Name returns the filter name these counters belong to.
func (s *FilterStats) Name() string { return s.name }

// RecordExecution records that the filter actually ran (as opposed to being
// satisfied from a cache), with the given elapsed time and accept/drop
// outcome.
func (s *FilterStats) RecordExecution(dropped bool, elapsed time.Duration) {
	atomic.AddInt64(&s.objectsProcessed, 1)
	atomic.AddInt64(&s.objectsComputed, 1)
	atomic.AddInt64(&s.executionNanos, int64(elapsed))
	if dropped {
		atomic.AddInt64(&s.objectsDropped, 1)
	}
}

// RecordCacheHit records that the filter's verdict was taken from the result
// cache (the resolver proved a drop, or the attribute cache supplied the
// filter's outputs) without running the filter at all.
func (s *FilterStats) RecordCacheHit(accepted bool) {
	atomic.AddInt64(&s.objectsProcessed, 1)
	if accepted {
		atomic.AddInt64(&s.objectsCachePassed, 1)
	} else {
		atomic.AddInt64(&s.objectsDropped, 1)
		atomic.AddInt64(&s.objectsCacheDropped, 1)
	}
}

// FilterSnapshot is a point-in-time copy of a FilterStats, safe to read
// without races after it has been taken.
type FilterSnapshot struct {
	Name                string
	ObjectsProcessed    int64
	ObjectsComputed     int64
	ObjectsDropped      int64
	ObjectsCacheDropped int64
	ObjectsCachePassed  int64
	ExecutionTime       time.Duration
}

// Snapshot copies the current counter values.
func (s *FilterStats) Snapshot() FilterSnapshot {
	return FilterSnapshot{
		Name:                s.name,
		ObjectsProcessed:    atomic.LoadInt64(&s.objectsProcessed),
		ObjectsComputed:     atomic.LoadInt64(&s.objectsComputed),
		ObjectsDropped:      atomic.LoadInt64(&s.objectsDropped),
		ObjectsCacheDropped: atomic.LoadInt64(&s.objectsCacheDropped),
		ObjectsCachePassed:  atomic.LoadInt64(&s.objectsCachePassed),
		ExecutionTime:       time.Duration(atomic.LoadInt64(&s.executionNanos)),
	}
}

// SearchStats accumulates the search-wide accept/drop totals across every
// worker's StackRunner, independent of which filter caused a drop.
type SearchStats struct {
	objectsProcessed int64
	objectsPassed    int64
	objectsDropped   int64
	executionNanos   int64
}

// NewSearchStats creates a zeroed search-wide counter set.
func NewSearchStats() *SearchStats {
	return &SearchStats{}
}

// Record records the outcome of evaluating one object through the whole
// stack.
func (s *SearchStats) Record(passed bool, elapsed time.Duration) {
	atomic.AddInt64(&s.objectsProcessed, 1)
	atomic.AddInt64(&s.executionNanos, int64(elapsed))
	if passed {
		atomic.AddInt64(&s.objectsPassed, 1)
	} else {
		atomic.AddInt64(&s.objectsDropped, 1)
	}
}

// SearchSnapshot is a point-in-time copy of SearchStats.
type SearchSnapshot struct {
	ObjectsProcessed int64
	ObjectsPassed    int64
	ObjectsDropped   int64
	ExecutionTime    time.Duration
}

// Snapshot copies the current counter values.
func (s *SearchStats) Snapshot() SearchSnapshot {
	return SearchSnapshot{
		ObjectsProcessed: atomic.LoadInt64(&s.objectsProcessed),
		ObjectsPassed:    atomic.LoadInt64(&s.objectsPassed),
		ObjectsDropped:   atomic.LoadInt64(&s.objectsDropped),
		ExecutionTime:    time.Duration(atomic.LoadInt64(&s.executionNanos)),
	}
}
