// Package orchestrator drives pending insight cache entries through
// aggregation, hashing and generation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/penshort/insights/internal/generator"
	"github.com/penshort/insights/internal/metrics"
	"github.com/penshort/insights/internal/model"
)

const (
	// DefaultBatchSize is the number of pending entries fetched per cycle.
	DefaultBatchSize = 50
	// DefaultConcurrency is the number of jobs run at once.
	DefaultConcurrency = 5
	// DefaultJobTimeout bounds a single aggregation.
	DefaultJobTimeout = 30 * time.Second
	// DefaultPollInterval is the time between cycles in loop mode.
	DefaultPollInterval = 30 * time.Second
	// DefaultCleanupInterval is the time between expired-entry sweeps.
	DefaultCleanupInterval = time.Hour
	// DefaultBreakerFailures is the consecutive failure count that opens the breaker.
	DefaultBreakerFailures = 5
	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 60 * time.Second

	// settleTimeout bounds the writes that record a job's outcome after the
	// parent context is gone.
	settleTimeout = 5 * time.Second
)

var tracer = otel.Tracer("penshort/orchestrator")

var (
	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("orchestrator already started")
	// ErrBatchInProgress is returned by ProcessPending when another cycle holds the batch.
	ErrBatchInProgress = errors.New("batch already in progress")
	// ErrAggregationTimeout is recorded when aggregation exceeds the job timeout.
	ErrAggregationTimeout = errors.New("aggregation timed out")
	// ErrBreakerOpen is recorded when aggregation is short-circuited.
	ErrBreakerOpen = errors.New("aggregation circuit breaker open")
)

// Aggregator builds the metrics snapshot for one user and period.
type Aggregator interface {
	AggregateMetricsForUser(ctx context.Context, userID string, period model.Period) (*model.AggregatedMetrics, error)
}

// Generator turns a metrics snapshot into insight signals.
type Generator interface {
	Generate(m *model.AggregatedMetrics) []model.InsightSignal
}

// CacheManager is the subset of insightcache.Manager the orchestrator drives.
type CacheManager interface {
	Version() string
	FindPendingCaches(ctx context.Context, limit int) ([]*model.CacheEntry, error)
	MarkAsCalculating(ctx context.Context, userID string, period model.Period) (bool, error)
	ShouldRecalculate(ctx context.Context, userID string, period model.Period, newHash string) (bool, error)
	SaveInsightsResult(ctx context.Context, result model.InsightsResult) error
	MarkAsCompleted(ctx context.Context, userID string, period model.Period) error
	MarkAsError(ctx context.Context, userID string, period model.Period, message string) error
	CleanExpiredCaches(ctx context.Context) (int64, error)
	GetCacheStats(ctx context.Context) (model.CacheStats, error)
}

// Notifier publishes terminal transitions. *cache.Notifier implements it.
type Notifier interface {
	Publish(ctx context.Context, event model.InsightsEvent) error
}

// Config controls batching, concurrency and resilience.
type Config struct {
	BatchSize       int
	Concurrency     int
	JobTimeout      time.Duration
	PollInterval    time.Duration
	CleanupInterval time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns the default orchestrator settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:       DefaultBatchSize,
		Concurrency:     DefaultConcurrency,
		JobTimeout:      DefaultJobTimeout,
		PollInterval:    DefaultPollInterval,
		CleanupInterval: DefaultCleanupInterval,
		BreakerFailures: DefaultBreakerFailures,
		BreakerTimeout:  DefaultBreakerTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// BatchResult counts the outcomes of one cycle. Processed is the number of
// entries fetched; every one of them ends up in exactly one other counter.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Orchestrator processes pending cache entries.
type Orchestrator struct {
	cache      CacheManager
	aggregator Aggregator
	generator  Generator
	notifier   Notifier
	metrics    metrics.Recorder
	logger     *slog.Logger
	cfg        Config
	breaker    *gobreaker.CircuitBreaker[*model.AggregatedMetrics]

	batchMu sync.Mutex
	startMu sync.Mutex
	started bool
}

// New creates an Orchestrator. notifier may be nil.
func New(cache CacheManager, agg Aggregator, gen Generator, notifier Notifier, recorder metrics.Recorder, logger *slog.Logger, cfg Config) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		cache:      cache,
		aggregator: agg,
		generator:  gen,
		notifier:   notifier,
		metrics:    recorder,
		logger:     logger.With("component", "orchestrator"),
		cfg:        cfg,
	}

	o.breaker = gobreaker.NewCircuitBreaker[*model.AggregatedMetrics](gobreaker.Settings{
		Name:        "aggregation",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Shutdown says nothing about the health of the store.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			o.metrics.IncBreakerStateChange(to.String())
		},
	})

	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run processes batches every PollInterval and removes expired entries every
// CleanupInterval until ctx is cancelled. The first batch runs immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startMu.Lock()
	if o.started {
		o.startMu.Unlock()
		return ErrAlreadyRunning
	}
	o.started = true
	o.startMu.Unlock()

	o.logger.Info("orchestrator started",
		"batch_size", o.cfg.BatchSize,
		"concurrency", o.cfg.Concurrency,
		"poll_interval", o.cfg.PollInterval,
	)

	poll := time.NewTicker(o.cfg.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(o.cfg.CleanupInterval)
	defer cleanup.Stop()

	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return nil
		case <-poll.C:
			o.tick(ctx)
		case <-cleanup.C:
			if _, err := o.Cleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("cleanup failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	if _, err := o.ProcessPending(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrBatchInProgress) {
			return
		}
		o.logger.Error("process error", "error", err)
	}
}

// Cleanup removes expired entries and refreshes the pending depth gauge.
func (o *Orchestrator) Cleanup(ctx context.Context) (int64, error) {
	removed, err := o.cache.CleanExpiredCaches(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := o.cache.GetCacheStats(ctx); err != nil {
		o.logger.Warn("failed to refresh cache stats", "error", err)
	}
	return removed, nil
}

// ProcessPending runs one cycle: it fetches up to BatchSize pending entries
// and processes them Concurrency at a time, waiting for each group to settle
// before starting the next. Job failures are recorded on the entries and
// counted; only a failure to fetch the batch is returned.
func (o *Orchestrator) ProcessPending(ctx context.Context) (BatchResult, error) {
	if !o.batchMu.TryLock() {
		return BatchResult{}, ErrBatchInProgress
	}
	defer o.batchMu.Unlock()

	ctx, span := tracer.Start(ctx, "orchestrator.process_pending",
		trace.WithAttributes(attribute.String("cache.version", o.cache.Version())),
	)
	defer span.End()

	var result BatchResult
	start := time.Now()

	entries, err := o.cache.FindPendingCaches(ctx, o.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("fetch pending entries: %w", err)
	}
	o.metrics.ObserveBatchSize(len(entries))
	if len(entries) == 0 {
		return result, nil
	}

	result.Processed = len(entries)
	for begin := 0; begin < len(entries); begin += o.cfg.Concurrency {
		if ctx.Err() != nil {
			// Entries that were not started stay pending for the next cycle.
			result.Skipped += len(entries) - begin
			break
		}

		end := min(begin+o.cfg.Concurrency, len(entries))
		group := entries[begin:end]
		outcomes := make([]string, len(group))

		var wg sync.WaitGroup
		for i, entry := range group {
			wg.Add(1)
			go func(i int, entry *model.CacheEntry) {
				defer wg.Done()
				outcomes[i] = o.runJob(ctx, entry)
			}(i, entry)
		}
		wg.Wait()

		for _, outcome := range outcomes {
			switch outcome {
			case metrics.OutcomeCompleted, metrics.OutcomeUnchanged:
				result.Successful++
			case metrics.OutcomeSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
		}
	}

	span.SetAttributes(
		attribute.Int("batch.processed", result.Processed),
		attribute.Int("batch.successful", result.Successful),
		attribute.Int("batch.failed", result.Failed),
		attribute.Int("batch.skipped", result.Skipped),
	)
	o.logger.Info("batch processed",
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// runJob claims and processes a single entry and returns its outcome.
// It never panics and never returns an error: failures are stored on the entry.
func (o *Orchestrator) runJob(ctx context.Context, entry *model.CacheEntry) (outcome string) {
	start := time.Now()
	log := o.logger.With("user_id", entry.UserID, "period", entry.Period)

	defer func() {
		o.metrics.IncJob(outcome)
		o.metrics.ObserveJobDuration(outcome, time.Since(start))
	}()

	var claimed bool
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomeFailed
			if !claimed {
				log.Error("panic while claiming entry", "panic", r)
				return
			}
			o.fail(ctx, entry, fmt.Errorf("panic: %v", r), log)
		}
	}()

	claimed, err := o.cache.MarkAsCalculating(ctx, entry.UserID, entry.Period)
	if err != nil {
		log.Warn("failed to claim entry", "error", err)
		return metrics.OutcomeFailed
	}
	if !claimed {
		log.Debug("entry claimed elsewhere")
		return metrics.OutcomeSkipped
	}

	outcome, err = o.process(ctx, entry)
	if err != nil {
		o.fail(ctx, entry, err, log)
		return metrics.OutcomeFailed
	}
	log.Debug("job finished", "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	return outcome
}

func (o *Orchestrator) process(ctx context.Context, entry *model.CacheEntry) (string, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.job",
		trace.WithAttributes(
			attribute.String("user.id", entry.UserID),
			attribute.String("insights.period", string(entry.Period)),
		),
	)
	defer span.End()

	outcome, hash, err := o.compute(ctx, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("job.outcome", outcome))

	o.notify(ctx, entry, model.InsightsEvent{
		Status:     model.CacheStatusCompleted,
		Outcome:    outcome,
		InputsHash: hash,
	})
	return outcome, nil
}

func (o *Orchestrator) compute(ctx context.Context, entry *model.CacheEntry) (outcome, hash string, err error) {
	m, err := o.aggregate(ctx, entry)
	if err != nil {
		return "", "", err
	}

	hash = generator.CalculateInputsHash(m)
	recalc, err := o.cache.ShouldRecalculate(ctx, entry.UserID, entry.Period, hash)
	if err != nil {
		return "", "", err
	}

	if !recalc {
		if err := o.cache.MarkAsCompleted(ctx, entry.UserID, entry.Period); err != nil {
			return "", "", err
		}
		return metrics.OutcomeUnchanged, hash, nil
	}

	err = o.cache.SaveInsightsResult(ctx, model.InsightsResult{
		UserID:      entry.UserID,
		Period:      entry.Period,
		InputsHash:  hash,
		Insights:    o.generator.Generate(m),
		TotalLinks:  m.TotalLinks,
		TotalClicks: m.TotalClicks,
	})
	if err != nil {
		return "", "", err
	}
	return metrics.OutcomeCompleted, hash, nil
}

// aggregate runs the aggregator under the job timeout and the circuit breaker.
// A timed out aggregation is abandoned; its goroutine finishes on its own once
// the aggregator observes the cancelled context.
func (o *Orchestrator) aggregate(ctx context.Context, entry *model.CacheEntry) (*model.AggregatedMetrics, error) {
	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.JobTimeout)
	defer cancel()

	type result struct {
		metrics *model.AggregatedMetrics
		err     error
	}

	start := time.Now()
	m, err := o.breaker.Execute(func() (*model.AggregatedMetrics, error) {
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("aggregation panic: %v", r)}
				}
			}()
			m, err := o.aggregator.AggregateMetricsForUser(jobCtx, entry.UserID, entry.Period)
			done <- result{metrics: m, err: err}
		}()

		select {
		case r := <-done:
			return r.metrics, r.err
		case <-jobCtx.Done():
			if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrAggregationTimeout, o.cfg.JobTimeout)
			}
			return nil, jobCtx.Err()
		}
	})
	o.metrics.ObserveAggregationDuration(time.Since(start))

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	case err != nil:
		return nil, fmt.Errorf("aggregate metrics: %w", err)
	case m == nil:
		return nil, errors.New("aggregate metrics: no result")
	}
	return m, nil
}

// fail stores err on the entry. It runs detached from ctx so that a job
// cancelled during shutdown still leaves a durable outcome.
func (o *Orchestrator) fail(ctx context.Context, entry *model.CacheEntry, jobErr error, log *slog.Logger) {
	log.Warn("job failed", "error", jobErr)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := o.cache.MarkAsError(settleCtx, entry.UserID, entry.Period, jobErr.Error()); err != nil {
		log.Error("failed to record job error", "error", err)
	}

	o.notify(ctx, entry, model.InsightsEvent{
		Status:  model.CacheStatusError,
		Outcome: metrics.OutcomeFailed,
		Error:   jobErr.Error(),
	})
}

// notify publishes event for entry. Failures are logged and counted only.
func (o *Orchestrator) notify(ctx context.Context, entry *model.CacheEntry, event model.InsightsEvent) {
	if o.notifier == nil {
		return
	}

	event.UserID = entry.UserID
	event.Period = entry.Period
	event.Version = o.cache.Version()
	event.At = time.Now().UTC()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if err := o.notifier.Publish(pubCtx, event); err != nil {
		o.metrics.IncNotifyFailure()
		o.logger.Warn("failed to publish insights event",
			"user_id", entry.UserID,
			"period", entry.Period,
			"error", err,
		)
	}
}
