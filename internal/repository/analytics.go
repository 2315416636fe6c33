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

// ErrUnknownBreakdown is returned for a breakdown column that is not queryable.
var ErrUnknownBreakdown = errors.New("unknown breakdown")

// Breakdown names a JSONB count map on daily_link_stats.
type Breakdown string

const (
	BreakdownCountry  Breakdown = "country_breakdown"
	BreakdownReferrer Breakdown = "referrer_breakdown"
	BreakdownDevice   Breakdown = "device_breakdown"
)

func (b Breakdown) valid() bool {
	switch b {
	case BreakdownCountry, BreakdownReferrer, BreakdownDevice:
		return true
	}
	return false
}

// AnalyticsRepository reads the per-user projections of links and
// daily_link_stats. Soft-deleted links are excluded everywhere.
type AnalyticsRepository struct {
	repo *Repository
}

// NewAnalyticsRepository creates a new AnalyticsRepository.
func NewAnalyticsRepository(repo *Repository) *AnalyticsRepository {
	return &AnalyticsRepository{repo: repo}
}

// CountLinks returns the user's total and currently active link counts.
func (r *AnalyticsRepository) CountLinks(ctx context.Context, userID string, at time.Time) (total, active int64, err error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE enabled AND (expires_at IS NULL OR expires_at > $2))
		FROM links
		WHERE owner_id = $1 AND deleted_at IS NULL
	`

	if err := r.repo.pool.QueryRow(ctx, query, userID, at).Scan(&total, &active); err != nil {
		return 0, 0, fmt.Errorf("count links: %w", err)
	}
	return total, active, nil
}

// SumClicks returns the user's clicks inside the date range.
func (r *AnalyticsRepository) SumClicks(ctx context.Context, userID string, dr model.DateRange) (int64, error) {
	query := `
		SELECT COALESCE(SUM(s.total_clicks), 0)
		FROM daily_link_stats s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = $1 AND l.deleted_at IS NULL
		  AND s.date >= $2 AND s.date <= $3
	`

	var clicks int64
	if err := r.repo.pool.QueryRow(ctx, query, userID, dr.Start, dr.End).Scan(&clicks); err != nil {
		return 0, fmt.Errorf("sum clicks: %w", err)
	}
	return clicks, nil
}

// TopLinks returns the user's most clicked links inside the date range.
func (r *AnalyticsRepository) TopLinks(ctx context.Context, userID string, dr model.DateRange, limit int) ([]model.LinkClicks, error) {
	query := `
		SELECT l.id, l.short_code, SUM(s.total_clicks) AS clicks
		FROM daily_link_stats s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = $1 AND l.deleted_at IS NULL
		  AND s.date >= $2 AND s.date <= $3
		GROUP BY l.id, l.short_code
		HAVING SUM(s.total_clicks) > 0
		ORDER BY clicks DESC, l.id
		LIMIT $4
	`

	rows, err := r.repo.pool.Query(ctx, query, userID, dr.Start, dr.End, limit)
	if err != nil {
		return nil, fmt.Errorf("query top links: %w", err)
	}
	defer rows.Close()

	links := make([]model.LinkClicks, 0, limit)
	for rows.Next() {
		var lc model.LinkClicks
		if err := rows.Scan(&lc.LinkID, &lc.ShortCode, &lc.Clicks); err != nil {
			return nil, fmt.Errorf("scan top link: %w", err)
		}
		links = append(links, lc)
	}

	return links, rows.Err()
}

// TopBreakdown sums one JSONB breakdown across the user's links and returns
// the largest buckets.
func (r *AnalyticsRepository) TopBreakdown(ctx context.Context, userID string, b Breakdown, dr model.DateRange, limit int) ([]model.KeyedClicks, error) {
	if !b.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBreakdown, b)
	}

	// The column name is from the closed Breakdown set above.
	query := fmt.Sprintf(`
		SELECT kv.key, SUM(kv.value::bigint) AS clicks
		FROM daily_link_stats s
		JOIN links l ON l.id = s.link_id,
		     jsonb_each_text(s.%s) AS kv
		WHERE l.owner_id = $1 AND l.deleted_at IS NULL
		  AND s.date >= $2 AND s.date <= $3
		GROUP BY kv.key
		HAVING SUM(kv.value::bigint) > 0
		ORDER BY clicks DESC, kv.key
		LIMIT $4
	`, string(b))

	rows, err := r.repo.pool.Query(ctx, query, userID, dr.Start, dr.End, limit)
	if err != nil {
		return nil, fmt.Errorf("query top %s: %w", b, err)
	}
	defer rows.Close()

	items := make([]model.KeyedClicks, 0, limit)
	for rows.Next() {
		var kc model.KeyedClicks
		if err := rows.Scan(&kc.Key, &kc.Clicks); err != nil {
			return nil, fmt.Errorf("scan %s: %w", b, err)
		}
		items = append(items, kc)
	}

	return items, rows.Err()
}

// DailyClicks returns per-day click totals, oldest first. Days without
// stats rows are absent.
func (r *AnalyticsRepository) DailyClicks(ctx context.Context, userID string, dr model.DateRange) ([]model.DailyClicks, error) {
	query := `
		SELECT s.date, SUM(s.total_clicks)
		FROM daily_link_stats s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = $1 AND l.deleted_at IS NULL
		  AND s.date >= $2 AND s.date <= $3
		GROUP BY s.date
		ORDER BY s.date
	`

	rows, err := r.repo.pool.Query(ctx, query, userID, dr.Start, dr.End)
	if err != nil {
		return nil, fmt.Errorf("query daily clicks: %w", err)
	}
	defer rows.Close()

	var series []model.DailyClicks
	for rows.Next() {
		var (
			day    time.Time
			clicks int64
		)
		if err := rows.Scan(&day, &clicks); err != nil {
			return nil, fmt.Errorf("scan daily clicks: %w", err)
		}
		series = append(series, model.DailyClicks{Date: day.UTC().Format(model.DateLayout), Clicks: clicks})
	}

	return series, rows.Err()
}

// ClicksByDayOfWeek returns clicks bucketed by the UTC weekday of the stats
// date, Sunday = 0.
func (r *AnalyticsRepository) ClicksByDayOfWeek(ctx context.Context, userID string, dr model.DateRange) ([7]int64, error) {
	var hist [7]int64

	query := `
		SELECT EXTRACT(DOW FROM s.date)::int AS dow, SUM(s.total_clicks)
		FROM daily_link_stats s
		JOIN links l ON l.id = s.link_id
		WHERE l.owner_id = $1 AND l.deleted_at IS NULL
		  AND s.date >= $2 AND s.date <= $3
		GROUP BY dow
	`

	rows, err := r.repo.pool.Query(ctx, query, userID, dr.Start, dr.End)
	if err != nil {
		return hist, fmt.Errorf("query day of week: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dow    int
			clicks int64
		)
		if err := rows.Scan(&dow, &clicks); err != nil {
			return hist, fmt.Errorf("scan day of week: %w", err)
		}
		if dow >= 0 && dow < len(hist) {
			hist[dow] = clicks
		}
	}

	return hist, rows.Err()
}

// UpsertLink writes a link read model.
func (r *AnalyticsRepository) UpsertLink(ctx context.Context, link *model.Link) error {
	query := `
		INSERT INTO links (id, short_code, destination, owner_id, enabled, expires_at, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			destination = EXCLUDED.destination,
			enabled = EXCLUDED.enabled,
			expires_at = EXCLUDED.expires_at,
			deleted_at = EXCLUDED.deleted_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.repo.pool.Exec(ctx, query,
		link.ID,
		link.ShortCode,
		link.Destination,
		link.OwnerID,
		link.Enabled,
		link.ExpiresAt,
		link.DeletedAt,
		link.CreatedAt,
		link.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// UpsertDailyStats writes a batch of daily_link_stats rows in one round trip.
func (r *AnalyticsRepository) UpsertDailyStats(ctx context.Context, stats []*model.DailyLinkStats) error {
	if len(stats) == 0 {
		return nil
	}

	query := `
		INSERT INTO daily_link_stats (
			link_id, date, total_clicks,
			country_breakdown, referrer_breakdown, device_breakdown
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (link_id, date) DO UPDATE SET
			total_clicks = EXCLUDED.total_clicks,
			country_breakdown = EXCLUDED.country_breakdown,
			referrer_breakdown = EXCLUDED.referrer_breakdown,
			device_breakdown = EXCLUDED.device_breakdown,
			updated_at = NOW()
	`

	batch := &pgx.Batch{}
	for _, s := range stats {
		batch.Queue(query,
			s.LinkID,
			s.Date.UTC(),
			s.TotalClicks,
			jsonMap(s.CountryBreakdown),
			jsonMap(s.ReferrerBreakdown),
			jsonMap(s.DeviceBreakdown),
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range stats {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert daily stat %d: %w", i, err)
		}
	}

	return nil
}

// jsonMap encodes a breakdown map, defaulting nil to an empty object.
func jsonMap(m map[string]int64) []byte {
	if m == nil {
		return []byte("{}")
	}
	data, _ := json.Marshal(m)
	return data
}
