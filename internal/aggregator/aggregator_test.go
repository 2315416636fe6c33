package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
)

// fakeStore serves canned answers and records the ranges it was asked for.
type fakeStore struct {
	mu sync.Mutex

	total, active int64
	clicks        map[string]int64 // keyed by range start date
	topLinks      []model.LinkClicks
	breakdowns    map[repository.Breakdown][]model.KeyedClicks
	daily         []model.DailyClicks
	dow           [7]int64

	failOn string
	calls  []string
	limits map[string]int
}

func (f *fakeStore) record(name string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.limits == nil {
		f.limits = make(map[string]int)
	}
	f.limits[name] = limit
	if f.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (f *fakeStore) CountLinks(_ context.Context, _ string, _ time.Time) (int64, int64, error) {
	if err := f.record("count_links", 0); err != nil {
		return 0, 0, err
	}
	return f.total, f.active, nil
}

func (f *fakeStore) SumClicks(_ context.Context, _ string, dr model.DateRange) (int64, error) {
	if err := f.record("sum_clicks", 0); err != nil {
		return 0, err
	}
	return f.clicks[dr.StartDate()], nil
}

func (f *fakeStore) TopLinks(_ context.Context, _ string, _ model.DateRange, limit int) ([]model.LinkClicks, error) {
	if err := f.record("top_links", limit); err != nil {
		return nil, err
	}
	return f.topLinks, nil
}

func (f *fakeStore) TopBreakdown(_ context.Context, _ string, b repository.Breakdown, _ model.DateRange, limit int) ([]model.KeyedClicks, error) {
	if err := f.record(string(b), limit); err != nil {
		return nil, err
	}
	return f.breakdowns[b], nil
}

func (f *fakeStore) DailyClicks(_ context.Context, _ string, _ model.DateRange) ([]model.DailyClicks, error) {
	if err := f.record("daily", 0); err != nil {
		return nil, err
	}
	return f.daily, nil
}

func (f *fakeStore) ClicksByDayOfWeek(_ context.Context, _ string, _ model.DateRange) ([7]int64, error) {
	if err := f.record("dow", 0); err != nil {
		return [7]int64{}, err
	}
	return f.dow, nil
}

var fixedNow = time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestAggregator(store Store) *Aggregator {
	return New(store, nil, WithClock(func() time.Time { return fixedNow }))
}

func TestAggregateMetricsForUser_EmptyAccount(t *testing.T) {
	store := &fakeStore{}
	a := newTestAggregator(store)

	m, err := a.AggregateMetricsForUser(context.Background(), "user-1", model.Period7Days)
	if err != nil {
		t.Fatalf("AggregateMetricsForUser() error = %v", err)
	}

	if m.TotalLinks != 0 || m.TotalClicks != 0 || m.PreviousPeriod.TotalClicks != 0 {
		t.Errorf("expected zero totals, got %+v", m)
	}
	if m.TopLinks == nil || len(m.TopLinks) != 0 {
		t.Errorf("TopLinks = %#v, want empty", m.TopLinks)
	}
	if m.TopCountries == nil || m.TopSources == nil || m.TopDevices == nil {
		t.Error("top lists must be empty, not nil")
	}
	if len(m.DailyClicks) != 7 {
		t.Errorf("DailyClicks length = %d, want 7 zero points", len(m.DailyClicks))
	}
	if len(store.calls) != 1 {
		t.Errorf("expected only the link count query, got %v", store.calls)
	}
}

func TestAggregateMetricsForUser_Assembles(t *testing.T) {
	store := &fakeStore{
		total:  4,
		active: 3,
		clicks: map[string]int64{
			"2024-03-04": 120, // current window start
			"2024-02-26": 80,  // previous window start
		},
		topLinks: []model.LinkClicks{{LinkID: "l1", ShortCode: "abc", Clicks: 100}},
		breakdowns: map[repository.Breakdown][]model.KeyedClicks{
			repository.BreakdownCountry:  {{Key: "US", Clicks: 90}},
			repository.BreakdownReferrer: {{Key: "(direct)", Clicks: 70}},
		},
		daily: []model.DailyClicks{
			{Date: "2024-03-05", Clicks: 20},
			{Date: "2024-03-10", Clicks: 100},
		},
		dow: [7]int64{100, 0, 20, 0, 0, 0, 0},
	}
	a := newTestAggregator(store)

	m, err := a.AggregateMetricsForUser(context.Background(), "user-1", model.Period7Days)
	if err != nil {
		t.Fatalf("AggregateMetricsForUser() error = %v", err)
	}

	if m.StartDate != "2024-03-04" || m.EndDate != "2024-03-10" {
		t.Errorf("window = %s..%s, want 2024-03-04..2024-03-10", m.StartDate, m.EndDate)
	}
	if m.PreviousPeriod.StartDate != "2024-02-26" || m.PreviousPeriod.EndDate != "2024-03-03" {
		t.Errorf("previous window = %s..%s", m.PreviousPeriod.StartDate, m.PreviousPeriod.EndDate)
	}
	if m.TotalLinks != 4 || m.ActiveLinks != 3 {
		t.Errorf("links = %d/%d, want 4/3", m.TotalLinks, m.ActiveLinks)
	}
	if m.TotalClicks != 120 || m.PreviousPeriod.TotalClicks != 80 {
		t.Errorf("clicks = %d (prev %d), want 120 (prev 80)", m.TotalClicks, m.PreviousPeriod.TotalClicks)
	}
	if len(m.TopLinks) != 1 || m.TopCountries[0].Key != "US" || m.TopSources[0].Key != "(direct)" {
		t.Errorf("unexpected top lists: %+v %+v %+v", m.TopLinks, m.TopCountries, m.TopSources)
	}
	if m.TopDevices == nil || len(m.TopDevices) != 0 {
		t.Errorf("TopDevices = %#v, want empty", m.TopDevices)
	}
	if m.ClicksByDayOfWeek[0] != 100 {
		t.Errorf("ClicksByDayOfWeek = %v", m.ClicksByDayOfWeek)
	}

	wantDaily := []int64{0, 20, 0, 0, 0, 0, 100}
	if len(m.DailyClicks) != len(wantDaily) {
		t.Fatalf("DailyClicks length = %d, want %d", len(m.DailyClicks), len(wantDaily))
	}
	for i, want := range wantDaily {
		if m.DailyClicks[i].Clicks != want {
			t.Errorf("DailyClicks[%d] = %+v, want %d clicks", i, m.DailyClicks[i], want)
		}
	}
	if m.DailyClicks[0].Date != "2024-03-04" {
		t.Errorf("first day = %s, want 2024-03-04", m.DailyClicks[0].Date)
	}
}

func TestAggregateMetricsForUser_TopLimits(t *testing.T) {
	store := &fakeStore{total: 1}
	a := newTestAggregator(store)

	if _, err := a.AggregateMetricsForUser(context.Background(), "user-1", model.Period30Days); err != nil {
		t.Fatalf("AggregateMetricsForUser() error = %v", err)
	}

	want := map[string]int{
		"top_links":                           model.TopLinksLimit,
		string(repository.BreakdownCountry):  model.TopCountriesLimit,
		string(repository.BreakdownReferrer): model.TopSourcesLimit,
		string(repository.BreakdownDevice):   model.TopDevicesLimit,
	}
	for name, limit := range want {
		if got := store.limits[name]; got != limit {
			t.Errorf("%s limit = %d, want %d", name, got, limit)
		}
	}
}

func TestAggregateMetricsForUser_QueryFailure(t *testing.T) {
	for _, failing := range []string{"count_links", "sum_clicks", "top_links", "device_breakdown", "daily", "dow"} {
		t.Run(failing, func(t *testing.T) {
			store := &fakeStore{total: 2, failOn: failing}
			a := newTestAggregator(store)

			m, err := a.AggregateMetricsForUser(context.Background(), "user-1", model.Period7Days)
			if err == nil {
				t.Fatal("expected error")
			}
			if m != nil {
				t.Errorf("expected nil metrics on failure, got %+v", m)
			}
		})
	}
}

func TestAggregateMetricsForUser_InvalidPeriod(t *testing.T) {
	a := newTestAggregator(&fakeStore{})

	_, err := a.AggregateMetricsForUser(context.Background(), "user-1", model.Period("14d"))
	if !errors.Is(err, model.ErrInvalidPeriod) {
		t.Fatalf("error = %v, want ErrInvalidPeriod", err)
	}
}

func TestFillDaily(t *testing.T) {
	current, _ := model.Period7Days.Windows(fixedNow)

	got := fillDaily(current, []model.DailyClicks{
		{Date: "2024-03-01", Clicks: 99}, // outside the window
		{Date: "2024-03-06", Clicks: 5},
	})

	if len(got) != 7 {
		t.Fatalf("len = %d, want 7", len(got))
	}
	var sum int64
	for _, d := range got {
		sum += d.Clicks
	}
	if sum != 5 {
		t.Errorf("sum = %d, want 5", sum)
	}
	if got[6].Date != "2024-03-10" {
		t.Errorf("last day = %s, want 2024-03-10", got[6].Date)
	}
}
