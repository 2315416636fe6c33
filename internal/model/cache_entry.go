package model

import "time"

// CacheStatus is the lifecycle state of a CacheEntry.
type CacheStatus string

const (
	CacheStatusPending     CacheStatus = "pending"
	CacheStatusCalculating CacheStatus = "calculating"
	CacheStatusCompleted   CacheStatus = "completed"
	CacheStatusError       CacheStatus = "error"
)

// IsValid reports whether the status is one of the known states.
func (s CacheStatus) IsValid() bool {
	switch s {
	case CacheStatusPending, CacheStatusCalculating, CacheStatusCompleted, CacheStatusError:
		return true
	}
	return false
}

// IsLive reports whether an unexpired entry in this state should be reused.
func (s CacheStatus) IsLive() bool {
	return s == CacheStatusPending || s == CacheStatusCalculating || s == CacheStatusCompleted
}

// CacheKey identifies one cache entry.
type CacheKey struct {
	UserID  string
	Period  Period
	Version string
}

// CacheEntry is the persisted insight set for (UserID, Period, Version).
type CacheEntry struct {
	ID           string          `json:"id"` // ULID
	UserID       string          `json:"user_id"`
	Period       Period          `json:"period"`
	Version      string          `json:"version"`
	Status       CacheStatus     `json:"status"`
	InputsHash   string          `json:"inputs_hash"`
	Insights     []InsightSignal `json:"insights"`
	TotalLinks   int64           `json:"total_links"`
	TotalClicks  int64           `json:"total_clicks"`
	Error        *string         `json:"error,omitempty"`
	CalculatedAt *time.Time      `json:"calculated_at,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Key returns the entry's identity.
func (e *CacheEntry) Key() CacheKey {
	return CacheKey{UserID: e.UserID, Period: e.Period, Version: e.Version}
}

// IsExpired reports whether the entry is past its expiry at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// IsLive reports whether the entry can be returned as-is to a caller.
func (e *CacheEntry) IsLive(now time.Time) bool {
	return e.Status.IsLive() && !e.IsExpired(now)
}

// InsightsResult is a successful generation run ready to be stored.
type InsightsResult struct {
	UserID      string
	Period      Period
	InputsHash  string
	Insights    []InsightSignal
	TotalLinks  int64
	TotalClicks int64
}

// CacheStats is a status histogram of cache entries.
type CacheStats struct {
	Pending     int64 `json:"pending"`
	Calculating int64 `json:"calculating"`
	Completed   int64 `json:"completed"`
	Error       int64 `json:"error"`
	Expired     int64 `json:"expired"`
	Total       int64 `json:"total"`
}

// Add counts n entries in status towards the histogram and total.
func (s *CacheStats) Add(status CacheStatus, n int64) {
	switch status {
	case CacheStatusPending:
		s.Pending += n
	case CacheStatusCalculating:
		s.Calculating += n
	case CacheStatusCompleted:
		s.Completed += n
	case CacheStatusError:
		s.Error += n
	}
	s.Total += n
}

// SystemStatus is the operations view of the insights cache.
type SystemStatus struct {
	Version   string     `json:"version"`
	Stats     CacheStats `json:"stats"`
	CheckedAt time.Time  `json:"checked_at"`
}
