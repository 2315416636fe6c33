// Package insightcache owns the lifecycle of cached insight sets:
// creation, claiming, completion, failure, invalidation and expiry.
package insightcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/penshort/insights/internal/metrics"
	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
)

// DefaultVersion is used when no cache version is configured.
const DefaultVersion = "v1"

// maxErrorLength bounds the stored failure message.
const maxErrorLength = 500

// ErrEmptyUserID is returned when an operation is called without a user.
var ErrEmptyUserID = errors.New("user id is required")

// Store persists cache entries. *repository.InsightsCacheRepository
// implements it; missing rows are reported as repository.ErrCacheEntryNotFound.
type Store interface {
	GetEntry(ctx context.Context, key model.CacheKey) (*model.CacheEntry, error)
	UpsertPending(ctx context.Context, entry *model.CacheEntry, now time.Time) (*model.CacheEntry, bool, error)
	FindPending(ctx context.Context, version string, now time.Time, limit int) ([]*model.CacheEntry, error)
	ClaimPending(ctx context.Context, key model.CacheKey, now time.Time) (bool, error)
	SaveCompleted(ctx context.Context, entry *model.CacheEntry) error
	RefreshCompleted(ctx context.Context, key model.CacheKey, expiresAt, now time.Time) (bool, error)
	SaveError(ctx context.Context, key model.CacheKey, message string, expiresAt, now time.Time) (bool, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context, version string, now time.Time) (model.CacheStats, error)
}

// Manager implements the cache state machine for one cache version:
//
//	(none|expired|error) -> pending -> calculating -> completed | error
type Manager struct {
	store   Store
	version string
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager writing entries under version.
func NewManager(store Store, version string, recorder metrics.Recorder, logger *slog.Logger, opts ...Option) *Manager {
	if version == "" {
		version = DefaultVersion
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		store:   store,
		version: version,
		metrics: recorder,
		logger:  logger.With("component", "insight_cache"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Version returns the cache version this manager reads and writes.
func (m *Manager) Version() string {
	return m.version
}

func (m *Manager) key(userID string, period model.Period) model.CacheKey {
	return model.CacheKey{UserID: userID, Period: period, Version: m.version}
}

func validate(userID string, period model.Period) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if !period.IsValid() {
		return model.ErrInvalidPeriod
	}
	return nil
}

// GetOrCreateCache returns the live entry for the user and period unchanged,
// or makes the entry pending and reports created = true. When another caller
// wins the race to create it, the winner's entry is returned.
func (m *Manager) GetOrCreateCache(ctx context.Context, userID string, period model.Period) (*model.CacheEntry, bool, error) {
	if err := validate(userID, period); err != nil {
		return nil, false, err
	}

	key := m.key(userID, period)
	now := m.now().UTC()

	existing, err := m.store.GetEntry(ctx, key)
	switch {
	case err == nil && existing.IsLive(now):
		m.metrics.IncCacheRequest(metrics.CacheHit)
		return existing, false, nil
	case err != nil && !errors.Is(err, repository.ErrCacheEntryNotFound):
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}

	pending := &model.CacheEntry{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Period:    period,
		Version:   m.version,
		Status:    model.CacheStatusPending,
		Insights:  []model.InsightSignal{},
		ExpiresAt: now.Add(TTLForPeriod(period)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	stored, created, err := m.store.UpsertPending(ctx, pending, now)
	if err != nil && !errors.Is(err, repository.ErrCacheConflict) {
		return nil, false, fmt.Errorf("create pending cache entry: %w", err)
	}
	if created {
		result := metrics.CacheCreated
		if stored.ID != pending.ID {
			result = metrics.CacheRecycled
		}
		m.metrics.IncCacheRequest(result)
		m.logger.Debug("cache entry pending", "user_id", userID, "period", period, "result", result)
		return stored, true, nil
	}

	// Someone else made the entry live between our read and write.
	winner, err := m.store.GetEntry(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("re-read cache entry: %w", err)
	}
	m.metrics.IncCacheRequest(metrics.CacheRaced)
	return winner, false, nil
}

// GetCache returns the stored entry for the user and period regardless of
// status or expiry, or nil when there is none.
func (m *Manager) GetCache(ctx context.Context, userID string, period model.Period) (*model.CacheEntry, error) {
	if err := validate(userID, period); err != nil {
		return nil, err
	}

	entry, err := m.store.GetEntry(ctx, m.key(userID, period))
	if err != nil {
		if errors.Is(err, repository.ErrCacheEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return entry, nil
}

// FindPendingCaches returns up to limit unexpired pending entries, oldest first.
func (m *Manager) FindPendingCaches(ctx context.Context, limit int) ([]*model.CacheEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	entries, err := m.store.FindPending(ctx, m.version, m.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("find pending caches: %w", err)
	}
	return entries, nil
}

// MarkAsCalculating claims a pending entry. It returns false when the entry
// is not pending, typically because another worker claimed it first.
func (m *Manager) MarkAsCalculating(ctx context.Context, userID string, period model.Period) (bool, error) {
	claimed, err := m.store.ClaimPending(ctx, m.key(userID, period), m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim cache entry: %w", err)
	}
	return claimed, nil
}

// SaveInsightsResult stores a freshly generated insight set as completed.
func (m *Manager) SaveInsightsResult(ctx context.Context, result model.InsightsResult) error {
	if err := validate(result.UserID, result.Period); err != nil {
		return err
	}

	now := m.now().UTC()
	entry := &model.CacheEntry{
		ID:           ulid.Make().String(),
		UserID:       result.UserID,
		Period:       result.Period,
		Version:      m.version,
		Status:       model.CacheStatusCompleted,
		InputsHash:   result.InputsHash,
		Insights:     result.Insights,
		TotalLinks:   result.TotalLinks,
		TotalClicks:  result.TotalClicks,
		CalculatedAt: &now,
		ExpiresAt:    now.Add(TTLForPeriod(result.Period)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.SaveCompleted(ctx, entry); err != nil {
		return fmt.Errorf("save insights result: %w", err)
	}
	return nil
}

// MarkAsCompleted returns a calculating entry whose inputs did not change to
// completed and extends its expiry. Stored insights are left as they are.
// Entries that left the calculating state meanwhile are not touched.
func (m *Manager) MarkAsCompleted(ctx context.Context, userID string, period model.Period) error {
	now := m.now().UTC()
	updated, err := m.store.RefreshCompleted(ctx, m.key(userID, period), now.Add(TTLForPeriod(period)), now)
	if err != nil {
		return fmt.Errorf("mark cache entry completed: %w", err)
	}
	if !updated {
		m.logger.Debug("cache entry no longer calculating, completion dropped", "user_id", userID, "period", period)
	}
	return nil
}

// MarkAsError records a failed run on a calculating entry. The entry stays
// visible for ErrorTTL and is recreated on the next request after that.
func (m *Manager) MarkAsError(ctx context.Context, userID string, period model.Period, message string) error {
	message = truncateUTF8(message, maxErrorLength)

	now := m.now().UTC()
	updated, err := m.store.SaveError(ctx, m.key(userID, period), message, now.Add(ErrorTTL), now)
	if err != nil {
		return fmt.Errorf("mark cache entry as error: %w", err)
	}
	if !updated {
		m.logger.Debug("cache entry no longer calculating, error dropped", "user_id", userID, "period", period)
	}
	return nil
}

// ShouldRecalculate reports whether insights must be regenerated for
// newHash. It is false only when the stored entry is unexpired and holds
// insights computed from the same inputs.
func (m *Manager) ShouldRecalculate(ctx context.Context, userID string, period model.Period, newHash string) (bool, error) {
	entry, err := m.store.GetEntry(ctx, m.key(userID, period))
	if err != nil {
		if errors.Is(err, repository.ErrCacheEntryNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("get cache entry: %w", err)
	}

	switch {
	case entry.InputsHash == "":
		return true, nil
	case entry.InputsHash != newHash:
		return true, nil
	case entry.Status == model.CacheStatusError:
		return true, nil
	case entry.CalculatedAt == nil:
		return true, nil
	case entry.IsExpired(m.now().UTC()):
		return true, nil
	}
	return false, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// InvalidateUserCache deletes every entry of the user.
func (m *Manager) InvalidateUserCache(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrEmptyUserID
	}

	removed, err := m.store.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("invalidate user cache: %w", err)
	}
	m.logger.Info("user cache invalidated", "user_id", userID, "removed", removed)
	return removed, nil
}

// CleanExpiredCaches deletes entries past their expiry.
func (m *Manager) CleanExpiredCaches(ctx context.Context) (int64, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clean expired caches: %w", err)
	}
	m.metrics.AddExpiredRemoved(removed)
	if removed > 0 {
		m.logger.Info("expired cache entries removed", "removed", removed)
	}
	return removed, nil
}

// GetCacheStats returns the status histogram for the current version.
func (m *Manager) GetCacheStats(ctx context.Context) (model.CacheStats, error) {
	stats, err := m.store.CountByStatus(ctx, m.version, m.now().UTC())
	if err != nil {
		return model.CacheStats{}, fmt.Errorf("get cache stats: %w", err)
	}
	m.metrics.SetPendingDepth(stats.Pending)
	return stats, nil
}

// GetSystemStatus returns the operations view of the cache.
func (m *Manager) GetSystemStatus(ctx context.Context) (*model.SystemStatus, error) {
	stats, err := m.GetCacheStats(ctx)
	if err != nil {
		return nil, err
	}
	return &model.SystemStatus{
		Version:   m.version,
		Stats:     stats,
		CheckedAt: m.now().UTC(),
	}, nil
}
