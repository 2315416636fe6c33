package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Jobs                map[string]uint64
	JobDurationCount    uint64
	AggregationCount    uint64
	AggregationTotalNs  int64
	Batches             uint64
	LastBatchSize       int64
	PendingDepth        int64
	BreakerStateChanges map[string]uint64
	NotifyFailures      uint64
	CacheRequests       map[string]uint64
	ExpiredRemoved      int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu             sync.Mutex
	jobs           map[string]uint64
	breakerChanges map[string]uint64
	cacheRequests  map[string]uint64

	jobDurationCount   uint64
	aggregationCount   uint64
	aggregationTotalNs int64
	batches            uint64
	lastBatchSize      int64
	pendingDepth       int64
	notifyFailures     uint64
	expiredRemoved     int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		jobs:           make(map[string]uint64),
		breakerChanges: make(map[string]uint64),
		cacheRequests:  make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Jobs:                copyCounts(m.jobs),
		JobDurationCount:    atomic.LoadUint64(&m.jobDurationCount),
		AggregationCount:    atomic.LoadUint64(&m.aggregationCount),
		AggregationTotalNs:  atomic.LoadInt64(&m.aggregationTotalNs),
		Batches:             atomic.LoadUint64(&m.batches),
		LastBatchSize:       atomic.LoadInt64(&m.lastBatchSize),
		PendingDepth:        atomic.LoadInt64(&m.pendingDepth),
		BreakerStateChanges: copyCounts(m.breakerChanges),
		NotifyFailures:      atomic.LoadUint64(&m.notifyFailures),
		CacheRequests:       copyCounts(m.cacheRequests),
		ExpiredRemoved:      atomic.LoadInt64(&m.expiredRemoved),
	}
}

// IncJob increments the job counter for outcome.
func (m *InMemoryRecorder) IncJob(outcome string) {
	m.mu.Lock()
	m.jobs[outcome]++
	m.mu.Unlock()
}

// ObserveJobDuration records a job duration.
func (m *InMemoryRecorder) ObserveJobDuration(outcome string, duration time.Duration) {
	atomic.AddUint64(&m.jobDurationCount, 1)
}

// ObserveAggregationDuration records an aggregation duration.
func (m *InMemoryRecorder) ObserveAggregationDuration(duration time.Duration) {
	atomic.AddUint64(&m.aggregationCount, 1)
	atomic.AddInt64(&m.aggregationTotalNs, duration.Nanoseconds())
}

// ObserveBatchSize records the size of a fetched batch.
func (m *InMemoryRecorder) ObserveBatchSize(size int) {
	atomic.AddUint64(&m.batches, 1)
	atomic.StoreInt64(&m.lastBatchSize, int64(size))
}

// SetPendingDepth stores the pending depth gauge.
func (m *InMemoryRecorder) SetPendingDepth(depth int64) {
	atomic.StoreInt64(&m.pendingDepth, depth)
}

// IncBreakerStateChange counts breaker transitions by target state.
func (m *InMemoryRecorder) IncBreakerStateChange(to string) {
	m.mu.Lock()
	m.breakerChanges[to]++
	m.mu.Unlock()
}

// IncNotifyFailure counts failed notifications.
func (m *InMemoryRecorder) IncNotifyFailure() {
	atomic.AddUint64(&m.notifyFailures, 1)
}

// IncCacheRequest counts cache requests by result.
func (m *InMemoryRecorder) IncCacheRequest(result string) {
	m.mu.Lock()
	m.cacheRequests[result]++
	m.mu.Unlock()
}

// AddExpiredRemoved adds to the expired-entry removal counter.
func (m *InMemoryRecorder) AddExpiredRemoved(count int64) {
	atomic.AddInt64(&m.expiredRemoved, count)
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
