package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "insights"

// PrometheusRecorder exports Recorder events as Prometheus collectors.
type PrometheusRecorder struct {
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	aggregation    prometheus.Histogram
	batchSize      prometheus.Histogram
	pendingDepth   prometheus.Gauge
	breakerChanges *prometheus.CounterVec
	notifyFailures prometheus.Counter
	cacheRequests  *prometheus.CounterVec
	expiredRemoved prometheus.Counter
}

// NewPrometheus registers the insights collectors with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Insight generation jobs by outcome",
			},
			[]string{"outcome"},
		),
		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of insight generation jobs in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		aggregation: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregation_duration_seconds",
				Help:      "Duration of metrics aggregation in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Pending entries fetched per orchestrator cycle",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		pendingDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_entries",
				Help:      "Pending cache entries at the last status check",
			},
		),
		breakerChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_state_changes_total",
				Help:      "Aggregation circuit breaker transitions by target state",
			},
			[]string{"state"},
		),
		notifyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_failures_total",
				Help:      "Completion notifications that could not be published",
			},
		),
		cacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "GetOrCreate cache requests by result",
			},
			[]string{"result"},
		),
		expiredRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "expired_entries_removed_total",
				Help:      "Expired cache entries deleted by housekeeping",
			},
		),
	}
}

// IncJob increments the job counter for outcome.
func (p *PrometheusRecorder) IncJob(outcome string) {
	p.jobs.WithLabelValues(outcome).Inc()
}

// ObserveJobDuration records a job duration.
func (p *PrometheusRecorder) ObserveJobDuration(outcome string, duration time.Duration) {
	p.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveAggregationDuration records an aggregation duration.
func (p *PrometheusRecorder) ObserveAggregationDuration(duration time.Duration) {
	p.aggregation.Observe(duration.Seconds())
}

// ObserveBatchSize records the size of a fetched batch.
func (p *PrometheusRecorder) ObserveBatchSize(size int) {
	p.batchSize.Observe(float64(size))
}

// SetPendingDepth sets the pending depth gauge.
func (p *PrometheusRecorder) SetPendingDepth(depth int64) {
	p.pendingDepth.Set(float64(depth))
}

// IncBreakerStateChange counts breaker transitions by target state.
func (p *PrometheusRecorder) IncBreakerStateChange(to string) {
	p.breakerChanges.WithLabelValues(to).Inc()
}

// IncNotifyFailure counts failed notifications.
func (p *PrometheusRecorder) IncNotifyFailure() {
	p.notifyFailures.Inc()
}

// IncCacheRequest counts cache requests by result.
func (p *PrometheusRecorder) IncCacheRequest(result string) {
	p.cacheRequests.WithLabelValues(result).Inc()
}

// AddExpiredRemoved adds to the expired-entry removal counter.
func (p *PrometheusRecorder) AddExpiredRemoved(count int64) {
	if count > 0 {
		p.expiredRemoved.Add(float64(count))
	}
}
