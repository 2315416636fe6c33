package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncJob is a no-op.
func (n *NoopRecorder) IncJob(outcome string) {}

// ObserveJobDuration is a no-op.
func (n *NoopRecorder) ObserveJobDuration(outcome string, duration time.Duration) {}

// ObserveAggregationDuration is a no-op.
func (n *NoopRecorder) ObserveAggregationDuration(duration time.Duration) {}

// ObserveBatchSize is a no-op.
func (n *NoopRecorder) ObserveBatchSize(size int) {}

// SetPendingDepth is a no-op.
func (n *NoopRecorder) SetPendingDepth(depth int64) {}

// IncBreakerStateChange is a no-op.
func (n *NoopRecorder) IncBreakerStateChange(to string) {}

// IncNotifyFailure is a no-op.
func (n *NoopRecorder) IncNotifyFailure() {}

// IncCacheRequest is a no-op.
func (n *NoopRecorder) IncCacheRequest(result string) {}

// AddExpiredRemoved is a no-op.
func (n *NoopRecorder) AddExpiredRemoved(count int64) {}
