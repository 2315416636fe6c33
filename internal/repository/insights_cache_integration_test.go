//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
	"github.com/penshort/insights/internal/testutil"
)

// ============================================================================
// Insights Cache Repository Integration Tests
// ============================================================================

var cacheNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newCacheTestEnv(t *testing.T) (context.Context, *repository.InsightsCacheRepository) {
	t.Helper()
	pg := testutil.StartPostgres(t)
	return context.Background(), repository.NewInsightsCacheRepository(pg.Repo)
}

func pendingEntry(userID string, period model.Period, expiresAt time.Time) *model.CacheEntry {
	return &model.CacheEntry{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Period:    period,
		Version:   "v1",
		Status:    model.CacheStatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: cacheNow,
		UpdatedAt: cacheNow,
	}
}

func mustUpsert(t *testing.T, ctx context.Context, repo *repository.InsightsCacheRepository, e *model.CacheEntry) *model.CacheEntry {
	t.Helper()
	stored, created, err := repo.UpsertPending(ctx, e, cacheNow)
	if err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if !created {
		t.Fatalf("UpsertPending did not write %v", e.Key())
	}
	return stored
}

func mustClaim(t *testing.T, ctx context.Context, repo *repository.InsightsCacheRepository, key model.CacheKey) {
	t.Helper()
	claimed, err := repo.ClaimPending(ctx, key, cacheNow)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if !claimed {
		t.Fatalf("ClaimPending did not claim %v", key)
	}
}

func TestIntegrationInsightsCache_UpsertPendingAndGet(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)

	entry := pendingEntry("user-1", model.Period30Days, cacheNow.Add(12*time.Hour))
	stored := mustUpsert(t, ctx, repo, entry)
	if stored.ID != entry.ID || stored.Status != model.CacheStatusPending {
		t.Errorf("stored = %+v", stored)
	}

	got, err := repo.GetEntry(ctx, entry.Key())
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.ID != entry.ID {
		t.Errorf("ID = %s, want %s", got.ID, entry.ID)
	}
	if got.Insights == nil || len(got.Insights) != 0 {
		t.Errorf("Insights = %v, want empty slice", got.Insights)
	}

	_, err = repo.GetEntry(ctx, model.CacheKey{UserID: "nobody", Period: model.Period7Days, Version: "v1"})
	if !errors.Is(err, repository.ErrCacheEntryNotFound) {
		t.Errorf("error = %v, want ErrCacheEntryNotFound", err)
	}
}

func TestIntegrationInsightsCache_UpsertPendingKeepsLiveEntry(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)

	first := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period7Days, cacheNow.Add(4*time.Hour)))

	stored, created, err := repo.UpsertPending(ctx, pendingEntry("user-1", model.Period7Days, cacheNow.Add(4*time.Hour)), cacheNow)
	if err != nil {
		t.Fatalf("UpsertPending failed: %v", err)
	}
	if created || stored != nil {
		t.Errorf("UpsertPending = (%v, %v), want live entry left untouched", stored, created)
	}

	got, err := repo.GetEntry(ctx, first.Key())
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("ID = %s, want %s", got.ID, first.ID)
	}
}

func TestIntegrationInsightsCache_UpsertPendingRecyclesDeadEntries(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, ctx context.Context, repo *repository.InsightsCacheRepository, key model.CacheKey)
	}{
		{
			name: "error entry",
			prepare: func(t *testing.T, ctx context.Context, repo *repository.InsightsCacheRepository, key model.CacheKey) {
				mustClaim(t, ctx, repo, key)
				if _, err := repo.SaveError(ctx, key, "boom", cacheNow.Add(time.Hour), cacheNow); err != nil {
					t.Fatalf("SaveError failed: %v", err)
				}
			},
		},
		{
			name: "expired completed entry",
			prepare: func(t *testing.T, ctx context.Context, repo *repository.InsightsCacheRepository, key model.CacheKey) {
				mustClaim(t, ctx, repo, key)
				if _, err := repo.RefreshCompleted(ctx, key, cacheNow.Add(-time.Minute), cacheNow); err != nil {
					t.Fatalf("RefreshCompleted failed: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, repo := newCacheTestEnv(t)
			first := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period90Days, cacheNow.Add(time.Hour)))
			tt.prepare(t, ctx, repo, first.Key())

			next := pendingEntry("user-1", model.Period90Days, cacheNow.Add(24*time.Hour))
			stored, created, err := repo.UpsertPending(ctx, next, cacheNow)
			if err != nil {
				t.Fatalf("UpsertPending failed: %v", err)
			}
			if !created {
				t.Fatal("UpsertPending did not recycle the entry")
			}
			if stored.ID != first.ID {
				t.Errorf("ID = %s, want recycled row %s", stored.ID, first.ID)
			}
			if stored.Status != model.CacheStatusPending || stored.Error != nil {
				t.Errorf("stored = status %s error %v, want clean pending", stored.Status, stored.Error)
			}
			if !stored.ExpiresAt.Equal(next.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, next.ExpiresAt)
			}
		})
	}
}

func TestIntegrationInsightsCache_FindPending(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)

	older := pendingEntry("user-1", model.Period7Days, cacheNow.Add(time.Hour))
	older.CreatedAt = cacheNow.Add(-2 * time.Minute)
	newer := pendingEntry("user-2", model.Period7Days, cacheNow.Add(time.Hour))
	newer.CreatedAt = cacheNow.Add(-time.Minute)
	claimed := pendingEntry("user-3", model.Period7Days, cacheNow.Add(time.Hour))
	otherVersion := pendingEntry("user-4", model.Period7Days, cacheNow.Add(time.Hour))
	otherVersion.Version = "v0"

	for _, e := range []*model.CacheEntry{newer, older, claimed, otherVersion} {
		mustUpsert(t, ctx, repo, e)
	}
	if _, err := repo.ClaimPending(ctx, claimed.Key(), cacheNow); err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}

	pending, err := repo.FindPending(ctx, "v1", cacheNow, 10)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("len(pending) = %d, want 2", len(pending))
	}
	if pending[0].ID != older.ID || pending[1].ID != newer.ID {
		t.Errorf("pending order = [%s %s], want [%s %s]", pending[0].ID, pending[1].ID, older.ID, newer.ID)
	}

	limited, err := repo.FindPending(ctx, "v1", cacheNow, 1)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

func TestIntegrationInsightsCache_ClaimIsExclusive(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)
	entry := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period30Days, cacheNow.Add(time.Hour)))

	const workers = 8
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimPending(ctx, entry.Key(), cacheNow)
			if err != nil {
				t.Errorf("ClaimPending failed: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("claims won = %d, want 1", wins.Load())
	}
}

func TestIntegrationInsightsCache_SaveCompleted(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)
	entry := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period30Days, cacheNow.Add(time.Hour)))

	calculatedAt := cacheNow
	delta := 25.0
	entry.InputsHash = "0123456789abcdef"
	entry.TotalLinks = 4
	entry.TotalClicks = 1000
	entry.CalculatedAt = &calculatedAt
	entry.ExpiresAt = cacheNow.Add(12 * time.Hour)
	entry.Insights = []model.InsightSignal{{
		Key:         "traffic_growth",
		Type:        model.InsightPositive,
		Category:    model.CategoryTraffic,
		Priority:    80,
		MetricValue: 1000,
		MetricDelta: &delta,
	}}

	if err := repo.SaveCompleted(ctx, entry); err != nil {
		t.Fatalf("SaveCompleted failed: %v", err)
	}

	got, err := repo.GetEntry(ctx, entry.Key())
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Status != model.CacheStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.InputsHash != entry.InputsHash || got.TotalClicks != 1000 || got.TotalLinks != 4 {
		t.Errorf("got = %+v", got)
	}
	if len(got.Insights) != 1 || got.Insights[0].Key != "traffic_growth" {
		t.Fatalf("Insights = %+v", got.Insights)
	}
	if got.Insights[0].MetricDelta == nil || *got.Insights[0].MetricDelta != delta {
		t.Errorf("MetricDelta = %v, want %v", got.Insights[0].MetricDelta, delta)
	}
	if got.CalculatedAt == nil || !got.CalculatedAt.Equal(calculatedAt) {
		t.Errorf("CalculatedAt = %v, want %v", got.CalculatedAt, calculatedAt)
	}
}

func TestIntegrationInsightsCache_RefreshAndErrorMissingRow(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)
	key := model.CacheKey{UserID: "ghost", Period: model.Period7Days, Version: "v1"}

	ok, err := repo.RefreshCompleted(ctx, key, cacheNow.Add(time.Hour), cacheNow)
	if err != nil || ok {
		t.Errorf("RefreshCompleted = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = repo.SaveError(ctx, key, "boom", cacheNow.Add(time.Hour), cacheNow)
	if err != nil || ok {
		t.Errorf("SaveError = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestIntegrationInsightsCache_RefreshAndErrorRequireCalculating(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)
	pending := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period7Days, cacheNow.Add(time.Hour)))

	ok, err := repo.SaveError(ctx, pending.Key(), "stale", cacheNow.Add(time.Hour), cacheNow)
	if err != nil || ok {
		t.Errorf("SaveError on pending = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = repo.RefreshCompleted(ctx, pending.Key(), cacheNow.Add(time.Hour), cacheNow)
	if err != nil || ok {
		t.Errorf("RefreshCompleted on pending = (%v, %v), want (false, nil)", ok, err)
	}

	got, err := repo.GetEntry(ctx, pending.Key())
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if got.Status != model.CacheStatusPending || got.Error != nil {
		t.Errorf("entry = %+v, want untouched pending", got)
	}

	mustClaim(t, ctx, repo, pending.Key())
	ok, err = repo.SaveError(ctx, pending.Key(), "boom", cacheNow.Add(time.Hour), cacheNow)
	if err != nil || !ok {
		t.Errorf("SaveError on calculating = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestIntegrationInsightsCache_DeleteAndCount(t *testing.T) {
	ctx, repo := newCacheTestEnv(t)

	live := mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period7Days, cacheNow.Add(time.Hour)))
	mustUpsert(t, ctx, repo, pendingEntry("user-1", model.Period30Days, cacheNow.Add(time.Hour)))
	failed := mustUpsert(t, ctx, repo, pendingEntry("user-2", model.Period7Days, cacheNow.Add(time.Hour)))
	mustClaim(t, ctx, repo, failed.Key())
	if _, err := repo.SaveError(ctx, failed.Key(), "boom", cacheNow.Add(-time.Minute), cacheNow); err != nil {
		t.Fatalf("SaveError failed: %v", err)
	}
	if _, err := repo.ClaimPending(ctx, live.Key(), cacheNow); err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}

	stats, err := repo.CountByStatus(ctx, "v1", cacheNow)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	want := model.CacheStats{Pending: 1, Calculating: 1, Error: 1, Expired: 1, Total: 3}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	removed, err := repo.DeleteExpired(ctx, cacheNow)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteExpired removed %d, want 1", removed)
	}

	removed, err = repo.DeleteByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("DeleteByUser failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteByUser removed %d, want 2", removed)
	}

	stats, err = repo.CountByStatus(ctx, "v1", cacheNow)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
}
