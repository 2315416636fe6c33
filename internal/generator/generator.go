// Package generator turns aggregated click metrics into ranked insight signals.
// It performs no I/O.
package generator

import (
	"math"
	"sort"

	"github.com/penshort/insights/internal/model"
)

const (
	// DefaultMinDataPoints is the click total below which no insights are produced.
	DefaultMinDataPoints = 10

	// DefaultTrendThresholdPercent is the period-over-period change that counts as a trend.
	DefaultTrendThresholdPercent = 15.0
)

// Config holds the thresholds used by the rule set.
type Config struct {
	MinDataPoints         int64
	TrendThresholdPercent float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinDataPoints:         DefaultMinDataPoints,
		TrendThresholdPercent: DefaultTrendThresholdPercent,
	}
}

// rule evaluates one family of signals.
type rule func(m *model.AggregatedMetrics) []model.InsightSignal

// Generator evaluates every rule family against a metrics snapshot.
type Generator struct {
	cfg   Config
	rules []rule
}

// New creates a Generator. Out-of-range thresholds fall back to defaults.
func New(cfg Config) *Generator {
	if cfg.MinDataPoints < 0 {
		cfg.MinDataPoints = DefaultMinDataPoints
	}
	if cfg.TrendThresholdPercent <= 0 {
		cfg.TrendThresholdPercent = DefaultTrendThresholdPercent
	}

	g := &Generator{cfg: cfg}
	g.rules = []rule{
		g.trafficSignals,
		geographySignals,
		performanceSignals,
		temporalSignals,
		distributionSignals,
	}
	return g
}

// Config returns the thresholds in use.
func (g *Generator) Config() Config {
	return g.cfg
}

// Generate returns the signals for m, highest priority first.
// Snapshots with fewer than MinDataPoints clicks yield an empty, non-nil slice.
func (g *Generator) Generate(m *model.AggregatedMetrics) []model.InsightSignal {
	signals := []model.InsightSignal{}
	if m == nil || m.TotalClicks < g.cfg.MinDataPoints {
		return signals
	}

	for _, r := range g.rules {
		signals = append(signals, r(m)...)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Priority > signals[j].Priority
	})
	return signals
}

// percentChange returns the change from previous to current in percent.
// ok is false when there is no baseline.
func percentChange(current, previous int64) (change float64, ok bool) {
	if previous <= 0 {
		return 0, false
	}
	return float64(current-previous) / float64(previous) * 100, true
}

// share returns part/total in percent, 0 when total is 0.
func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 {
	return &v
}

func sumClicks(items []model.KeyedClicks) int64 {
	var total int64
	for _, item := range items {
		total += item.Clicks
	}
	return total
}
