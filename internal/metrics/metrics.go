// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Job outcomes reported by the orchestrator.
const (
	OutcomeCompleted = "completed" // insights regenerated and stored
	OutcomeUnchanged = "unchanged" // inputs hash matched, expiry refreshed
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped" // claim lost to another worker
)

// Cache request results reported by the cache manager.
const (
	CacheHit      = "hit"
	CacheCreated  = "created"
	CacheRecycled = "recycled"
	CacheRaced    = "raced"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Orchestrator metrics
	IncJob(outcome string)
	ObserveJobDuration(outcome string, duration time.Duration)
	ObserveAggregationDuration(duration time.Duration)
	ObserveBatchSize(size int)
	SetPendingDepth(depth int64)
	IncBreakerStateChange(to string)
	IncNotifyFailure()

	// Cache manager metrics
	IncCacheRequest(result string)
	AddExpiredRemoved(count int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
