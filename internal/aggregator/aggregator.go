// Package aggregator projects raw click analytics into one AggregatedMetrics
// snapshot per user and period.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
)

var tracer = otel.Tracer("penshort/aggregator")

// Store is the read side the aggregator depends on.
// *repository.AnalyticsRepository implements it.
type Store interface {
	CountLinks(ctx context.Context, userID string, at time.Time) (total, active int64, err error)
	SumClicks(ctx context.Context, userID string, dr model.DateRange) (int64, error)
	TopLinks(ctx context.Context, userID string, dr model.DateRange, limit int) ([]model.LinkClicks, error)
	TopBreakdown(ctx context.Context, userID string, b repository.Breakdown, dr model.DateRange, limit int) ([]model.KeyedClicks, error)
	DailyClicks(ctx context.Context, userID string, dr model.DateRange) ([]model.DailyClicks, error)
	ClicksByDayOfWeek(ctx context.Context, userID string, dr model.DateRange) ([7]int64, error)
}

// Aggregator builds metrics snapshots. It holds no mutable state and is safe
// for concurrent use.
type Aggregator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used to place the period windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an Aggregator.
func New(store Store, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		store:  store,
		logger: logger.With("component", "aggregator"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AggregateMetricsForUser returns the user's metrics for the window of period
// ending today (UTC). A user with no links gets an all-zero snapshot.
func (a *Aggregator) AggregateMetricsForUser(ctx context.Context, userID string, period model.Period) (*model.AggregatedMetrics, error) {
	if !period.IsValid() {
		return nil, fmt.Errorf("aggregate %q: %w", period, model.ErrInvalidPeriod)
	}

	ctx, span := tracer.Start(ctx, "aggregator.aggregate_metrics",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("insights.period", string(period)),
		))
	defer span.End()

	now := a.now().UTC()
	current, previous := period.Windows(now)
	m := model.EmptyMetrics(userID, period, current, previous)

	total, active, err := a.store.CountLinks(ctx, userID, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("aggregate %s/%s: %w", userID, period, err)
	}
	if total == 0 {
		m.DailyClicks = fillDaily(current, nil)
		span.SetAttributes(attribute.Bool("insights.empty_account", true))
		return m, nil
	}
	m.TotalLinks = total
	m.ActiveLinks = active

	// Every query writes its own field of m.
	var daily []model.DailyClicks
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		clicks, err := a.store.SumClicks(gctx, userID, current)
		if err != nil {
			return err
		}
		m.TotalClicks = clicks
		return nil
	})
	g.Go(func() error {
		clicks, err := a.store.SumClicks(gctx, userID, previous)
		if err != nil {
			return err
		}
		m.PreviousPeriod.TotalClicks = clicks
		return nil
	})
	g.Go(func() error {
		links, err := a.store.TopLinks(gctx, userID, current, model.TopLinksLimit)
		if err != nil {
			return err
		}
		m.TopLinks = nonNil(links)
		return nil
	})
	g.Go(func() error {
		items, err := a.store.TopBreakdown(gctx, userID, repository.BreakdownCountry, current, model.TopCountriesLimit)
		if err != nil {
			return err
		}
		m.TopCountries = nonNil(items)
		return nil
	})
	g.Go(func() error {
		items, err := a.store.TopBreakdown(gctx, userID, repository.BreakdownReferrer, current, model.TopSourcesLimit)
		if err != nil {
			return err
		}
		m.TopSources = nonNil(items)
		return nil
	})
	g.Go(func() error {
		items, err := a.store.TopBreakdown(gctx, userID, repository.BreakdownDevice, current, model.TopDevicesLimit)
		if err != nil {
			return err
		}
		m.TopDevices = nonNil(items)
		return nil
	})
	g.Go(func() error {
		series, err := a.store.DailyClicks(gctx, userID, current)
		if err != nil {
			return err
		}
		daily = series
		return nil
	})
	g.Go(func() error {
		hist, err := a.store.ClicksByDayOfWeek(gctx, userID, current)
		if err != nil {
			return err
		}
		m.ClicksByDayOfWeek = hist
		return nil
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("aggregate %s/%s: %w", userID, period, err)
	}

	m.DailyClicks = fillDaily(current, daily)

	span.SetAttributes(
		attribute.Int64("insights.total_links", m.TotalLinks),
		attribute.Int64("insights.total_clicks", m.TotalClicks),
	)
	a.logger.Debug("metrics aggregated",
		"user_id", userID,
		"period", period,
		"total_links", m.TotalLinks,
		"total_clicks", m.TotalClicks,
	)

	return m, nil
}

// fillDaily returns one point per day of dr, taking clicks from sparse and
// zero elsewhere. Points outside dr are dropped.
func fillDaily(dr model.DateRange, sparse []model.DailyClicks) []model.DailyClicks {
	byDate := make(map[string]int64, len(sparse))
	for _, d := range sparse {
		byDate[d.Date] += d.Clicks
	}

	var out []model.DailyClicks
	for day := dr.Start; !day.After(dr.End); day = day.AddDate(0, 0, 1) {
		date := day.Format(model.DateLayout)
		out = append(out, model.DailyClicks{Date: date, Clicks: byDate[date]})
	}
	if out == nil {
		out = []model.DailyClicks{}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
