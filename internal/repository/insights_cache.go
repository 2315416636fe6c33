package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/penshort/insights/internal/model"
)

// Common errors for insights cache operations.
var (
	ErrCacheEntryNotFound = errors.New("cache entry not found")
	ErrCacheConflict      = errors.New("cache entry conflict")
)

const cacheColumns = `
	id, user_id, period, version, status, inputs_hash, insights,
	total_links, total_clicks, error, calculated_at, expires_at, created_at, updated_at
`

// InsightsCacheRepository stores CacheEntry rows in insights_cache.
// Every state transition is a single conditional statement.
type InsightsCacheRepository struct {
	repo *Repository
}

// NewInsightsCacheRepository creates a new InsightsCacheRepository.
func NewInsightsCacheRepository(repo *Repository) *InsightsCacheRepository {
	return &InsightsCacheRepository{repo: repo}
}

// GetEntry returns the entry for key.
func (r *InsightsCacheRepository) GetEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + `
		FROM insights_cache
		WHERE user_id = $1 AND period = $2 AND version = $3
	`

	entry, err := scanEntry(r.repo.pool.QueryRow(ctx, query, key.UserID, key.Period, key.Version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return entry, nil
}

// UpsertPending inserts entry as pending, or recycles the existing row for
// its key when that row is not live at now. It returns the stored row and
// true when this call wrote it, or nil and false when a live row was left
// untouched. Inputs hash and insights of a recycled row are kept.
func (r *InsightsCacheRepository) UpsertPending(ctx context.Context, entry *model.CacheEntry, now time.Time) (*model.CacheEntry, bool, error) {
	query := `
		INSERT INTO insights_cache (id, user_id, period, version, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $6)
		ON CONFLICT (user_id, period, version) DO UPDATE SET
			status = 'pending',
			error = NULL,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE NOT (
			insights_cache.status IN ('pending', 'calculating', 'completed')
			AND insights_cache.expires_at > $6
		)
		RETURNING ` + cacheColumns

	stored, err := scanEntry(r.repo.pool.QueryRow(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Period,
		entry.Version,
		entry.ExpiresAt,
		now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		if isUniqueViolation(err) {
			return nil, false, ErrCacheConflict
		}
		return nil, false, fmt.Errorf("failed to upsert pending cache entry: %w", err)
	}
	return stored, true, nil
}

// FindPending returns unexpired pending entries of version, oldest first.
func (r *InsightsCacheRepository) FindPending(ctx context.Context, version string, now time.Time, limit int) ([]*model.CacheEntry, error) {
	query := `SELECT ` + cacheColumns + `
		FROM insights_cache
		WHERE status = 'pending' AND version = $1 AND expires_at > $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`

	rows, err := r.repo.pool.Query(ctx, query, version, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.CacheEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cache entries: %w", err)
	}
	return entries, nil
}

// ClaimPending moves key from pending to calculating. Exactly one concurrent
// caller observes true.
func (r *InsightsCacheRepository) ClaimPending(ctx context.Context, key model.CacheKey, now time.Time) (bool, error) {
	query := `
		UPDATE insights_cache
		SET status = 'calculating', updated_at = $4
		WHERE user_id = $1 AND period = $2 AND version = $3 AND status = 'pending'
	`

	result, err := r.repo.pool.Exec(ctx, query, key.UserID, key.Period, key.Version, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim cache entry: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SaveCompleted upserts entry in the completed state.
func (r *InsightsCacheRepository) SaveCompleted(ctx context.Context, entry *model.CacheEntry) error {
	insights, err := json.Marshal(nonNilInsights(entry.Insights))
	if err != nil {
		return fmt.Errorf("failed to encode insights: %w", err)
	}

	query := `
		INSERT INTO insights_cache (
			id, user_id, period, version, status, inputs_hash, insights,
			total_links, total_clicks, error, calculated_at, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 'completed', $5, $6, $7, $8, NULL, $9, $10, $9, $9)
		ON CONFLICT (user_id, period, version) DO UPDATE SET
			status = 'completed',
			inputs_hash = EXCLUDED.inputs_hash,
			insights = EXCLUDED.insights,
			total_links = EXCLUDED.total_links,
			total_clicks = EXCLUDED.total_clicks,
			error = NULL,
			calculated_at = EXCLUDED.calculated_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.repo.pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Period,
		entry.Version,
		entry.InputsHash,
		insights,
		entry.TotalLinks,
		entry.TotalClicks,
		entry.CalculatedAt,
		entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save completed cache entry: %w", err)
	}
	return nil
}

// RefreshCompleted marks a calculating key completed with a new expiry,
// keeping its stored insights and hash. It reports whether a row was
// updated; false means the row is gone or was recycled by another writer.
func (r *InsightsCacheRepository) RefreshCompleted(ctx context.Context, key model.CacheKey, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE insights_cache
		SET status = 'completed', error = NULL, expires_at = $4, updated_at = $5
		WHERE user_id = $1 AND period = $2 AND version = $3 AND status = 'calculating'
	`

	result, err := r.repo.pool.Exec(ctx, query, key.UserID, key.Period, key.Version, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to refresh cache entry: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SaveError marks a calculating key as failed with message. It reports
// whether a row was updated.
func (r *InsightsCacheRepository) SaveError(ctx context.Context, key model.CacheKey, message string, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE insights_cache
		SET status = 'error', error = $4, expires_at = $5, updated_at = $6
		WHERE user_id = $1 AND period = $2 AND version = $3 AND status = 'calculating'
	`

	result, err := r.repo.pool.Exec(ctx, query, key.UserID, key.Period, key.Version, message, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark cache entry as error: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteByUser removes every entry of userID across periods and versions.
func (r *InsightsCacheRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.repo.pool.Exec(ctx, `DELETE FROM insights_cache WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user cache entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes entries whose expiry is before now.
func (r *InsightsCacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.repo.pool.Exec(ctx, `DELETE FROM insights_cache WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountByStatus returns the status histogram of version's entries.
func (r *InsightsCacheRepository) CountByStatus(ctx context.Context, version string, now time.Time) (model.CacheStats, error) {
	var stats model.CacheStats

	query := `
		SELECT status, COUNT(*), COUNT(*) FILTER (WHERE expires_at <= $2)
		FROM insights_cache
		WHERE version = $1
		GROUP BY status
	`

	rows, err := r.repo.pool.Query(ctx, query, version, now)
	if err != nil {
		return stats, fmt.Errorf("failed to count cache entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status         model.CacheStatus
			count, expired int64
		)
		if err := rows.Scan(&status, &count, &expired); err != nil {
			return stats, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		stats.Add(status, count)
		stats.Expired += expired
	}

	return stats, rows.Err()
}

// scanEntry scans a single row into a CacheEntry.
func scanEntry(row pgx.Row) (*model.CacheEntry, error) {
	var (
		entry    model.CacheEntry
		insights []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Period,
		&entry.Version,
		&entry.Status,
		&entry.InputsHash,
		&insights,
		&entry.TotalLinks,
		&entry.TotalClicks,
		&entry.Error,
		&entry.CalculatedAt,
		&entry.ExpiresAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Insights = []model.InsightSignal{}
	if len(insights) > 0 {
		if err := json.Unmarshal(insights, &entry.Insights); err != nil {
			return nil, fmt.Errorf("decode insights: %w", err)
		}
	}
	return &entry, nil
}

func nonNilInsights(s []model.InsightSignal) []model.InsightSignal {
	if s == nil {
		return []model.InsightSignal{}
	}
	return s
}
