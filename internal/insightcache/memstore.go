package insightcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/repository"
)

// MemoryStore is an in-process Store with the same conditional semantics as
// the PostgreSQL repository. It is intended for tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[model.CacheKey]*model.CacheEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[model.CacheKey]*model.CacheEntry)}
}

// Put stores a copy of entry, replacing any entry with the same key.
func (s *MemoryStore) Put(entry *model.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key()] = cloneEntry(entry)
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// GetEntry implements Store.
func (s *MemoryStore) GetEntry(_ context.Context, key model.CacheKey) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, repository.ErrCacheEntryNotFound
	}
	return cloneEntry(e), nil
}

// UpsertPending implements Store.
func (s *MemoryStore) UpsertPending(_ context.Context, entry *model.CacheEntry, now time.Time) (*model.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.Key()
	existing, ok := s.entries[key]
	if !ok {
		stored := cloneEntry(entry)
		stored.Status = model.CacheStatusPending
		s.entries[key] = stored
		return cloneEntry(stored), true, nil
	}
	if existing.IsLive(now) {
		return nil, false, nil
	}

	existing.Status = model.CacheStatusPending
	existing.Error = nil
	existing.ExpiresAt = entry.ExpiresAt
	existing.CreatedAt = entry.CreatedAt
	existing.UpdatedAt = entry.UpdatedAt
	return cloneEntry(existing), true, nil
}

// FindPending implements Store.
func (s *MemoryStore) FindPending(_ context.Context, version string, now time.Time, limit int) ([]*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.CacheEntry
	for _, e := range s.entries {
		if e.Status == model.CacheStatusPending && e.Version == version && e.ExpiresAt.After(now) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimPending implements Store.
func (s *MemoryStore) ClaimPending(_ context.Context, key model.CacheKey, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Status != model.CacheStatusPending {
		return false, nil
	}
	e.Status = model.CacheStatusCalculating
	e.UpdatedAt = now
	return true, nil
}

// SaveCompleted implements Store.
func (s *MemoryStore) SaveCompleted(_ context.Context, entry *model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entry.Key()
	stored := cloneEntry(entry)
	stored.Status = model.CacheStatusCompleted
	stored.Error = nil
	if existing, ok := s.entries[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	s.entries[key] = stored
	return nil
}

// RefreshCompleted implements Store.
func (s *MemoryStore) RefreshCompleted(_ context.Context, key model.CacheKey, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Status != model.CacheStatusCalculating {
		return false, nil
	}
	e.Status = model.CacheStatusCompleted
	e.Error = nil
	e.ExpiresAt = expiresAt
	e.UpdatedAt = now
	return true, nil
}

// SaveError implements Store.
func (s *MemoryStore) SaveError(_ context.Context, key model.CacheKey, message string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.Status != model.CacheStatusCalculating {
		return false, nil
	}
	e.Status = model.CacheStatusError
	e.Error = &message
	e.ExpiresAt = expiresAt
	e.UpdatedAt = now
	return true, nil
}

// DeleteByUser implements Store.
func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.entries {
		if key.UserID == userID {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, e := range s.entries {
		if e.ExpiresAt.Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// CountByStatus implements Store.
func (s *MemoryStore) CountByStatus(_ context.Context, version string, now time.Time) (model.CacheStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats model.CacheStats
	for _, e := range s.entries {
		if e.Version != version {
			continue
		}
		stats.Add(e.Status, 1)
		if e.IsExpired(now) {
			stats.Expired++
		}
	}
	return stats, nil
}

func cloneEntry(e *model.CacheEntry) *model.CacheEntry {
	c := *e
	if e.Insights != nil {
		c.Insights = append([]model.InsightSignal(nil), e.Insights...)
	}
	if e.Error != nil {
		msg := *e.Error
		c.Error = &msg
	}
	if e.CalculatedAt != nil {
		at := *e.CalculatedAt
		c.CalculatedAt = &at
	}
	return &c
}
