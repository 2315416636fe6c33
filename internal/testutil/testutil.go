// Package testutil holds shared helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/penshort/insights/internal/database"
	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

// Postgres is a migrated database for one test.
type Postgres struct {
	URL  string
	Repo *repository.Repository
}

// Pool returns the underlying connection pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.Repo.Pool()
}

// StartPostgres returns a freshly migrated database. DATABASE_URL is used
// when set; otherwise a throwaway container is started.
func StartPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		url = startContainer(t, ctx)
	}

	repo, err := repository.New(ctx, url, 4)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("lock test database: %v", err)
	}
	t.Cleanup(func() {
		if err := unlock(); err != nil {
			t.Logf("warning: %v", err)
		}
	})

	if err := database.Reset(url); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := CleanDB(ctx, repo.Pool()); err != nil {
		t.Fatalf("clean test database: %v", err)
	}

	return &Postgres{URL: url, Repo: repo}
}

func startContainer(t *testing.T, ctx context.Context) string {
	t.Helper()

	t.Log("starting postgres container")
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("insights_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("warning: terminate postgres container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	return url
}

const advisoryLockID int64 = 420421

// AcquireDBLock grabs a global advisory lock to serialize DB tests that
// share one DATABASE_URL.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// CleanDB truncates every table.
func CleanDB(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE insights_cache, daily_link_stats, links CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// StartRedis returns a client for REDIS_URL with a flushed database, or
// skips the test when REDIS_URL is unset.
func StartRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := RequireEnv(t, "REDIS_URL")
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	if err := FlushRedis(context.Background(), client); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return client
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestLink creates an enabled link owned by ownerID.
func NewTestLink(t testing.TB, ownerID string) *model.Link {
	t.Helper()
	now := time.Now().UTC()
	id := UniqueID("link")
	return &model.Link{
		ID:          id,
		ShortCode:   id,
		Destination: "https://example.com/" + id,
		OwnerID:     ownerID,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewTestStats creates one day of clicks for linkID.
func NewTestStats(linkID string, day time.Time, clicks int64) *model.DailyLinkStats {
	return &model.DailyLinkStats{
		LinkID:      linkID,
		Date:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		TotalClicks: clicks,
	}
}

// SeedLink writes link and its stats through the analytics repository.
func SeedLink(t testing.TB, repo *repository.AnalyticsRepository, link *model.Link, stats ...*model.DailyLinkStats) {
	t.Helper()
	ctx := context.Background()
	if err := repo.UpsertLink(ctx, link); err != nil {
		t.Fatalf("seed link %s: %v", link.ID, err)
	}
	if err := repo.UpsertDailyStats(ctx, stats); err != nil {
		t.Fatalf("seed stats for %s: %v", link.ID, err)
	}
}

var idSeq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), idSeq.Add(1))
}
