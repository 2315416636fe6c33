package model

import "time"

// LinkStatus represents the computed status of a link.
type LinkStatus string

const (
	LinkStatusActive   LinkStatus = "active"
	LinkStatusExpired  LinkStatus = "expired"
	LinkStatusDisabled LinkStatus = "disabled"
	LinkStatusDeleted  LinkStatus = "deleted"
)

// Link is the read model of a shortened URL owned by a user.
// The insights service never mutates links.
type Link struct {
	ID          string     `json:"id"`
	ShortCode   string     `json:"short_code"`
	Destination string     `json:"destination"`
	OwnerID     string     `json:"owner_id"`
	Enabled     bool       `json:"enabled"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	DeletedAt   *time.Time `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusAt computes the status of the link at the given instant.
func (l *Link) StatusAt(now time.Time) LinkStatus {
	if l.DeletedAt != nil {
		return LinkStatusDeleted
	}
	if !l.Enabled {
		return LinkStatusDisabled
	}
	if l.ExpiresAt != nil && now.After(*l.ExpiresAt) {
		return LinkStatusExpired
	}
	return LinkStatusActive
}

// IsActive returns true if the link currently counts as active.
func (l *Link) IsActive() bool {
	return l.StatusAt(time.Now()) == LinkStatusActive
}

// DailyLinkStats is one pre-aggregated day of clicks for a link.
type DailyLinkStats struct {
	LinkID      string    `json:"link_id"`
	Date        time.Time `json:"date"` // UTC date, time component zeroed
	TotalClicks int64     `json:"total_clicks"`

	// Breakdowns are stored as JSONB count maps.
	CountryBreakdown  map[string]int64 `json:"country_breakdown,omitempty"`
	ReferrerBreakdown map[string]int64 `json:"referrer_breakdown,omitempty"`
	DeviceBreakdown   map[string]int64 `json:"device_breakdown,omitempty"`
}
