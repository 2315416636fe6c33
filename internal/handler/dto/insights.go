// Package dto holds the JSON shapes of the HTTP API.
package dto

import (
	"time"

	"github.com/penshort/insights/internal/model"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InsightsResponse is the polling view of one cache entry.
type InsightsResponse struct {
	UserID       string                `json:"user_id"`
	Period       model.Period          `json:"period"`
	Version      string                `json:"version"`
	Status       model.CacheStatus     `json:"status"`
	Insights     []model.InsightSignal `json:"insights"`
	TotalLinks   int64                 `json:"total_links"`
	TotalClicks  int64                 `json:"total_clicks"`
	Error        string                `json:"error,omitempty"`
	CalculatedAt *time.Time            `json:"calculated_at,omitempty"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

// ToInsightsResponse converts a CacheEntry to its API shape. Insights are
// only exposed once the entry is completed.
func ToInsightsResponse(entry *model.CacheEntry) *InsightsResponse {
	resp := &InsightsResponse{
		UserID:       entry.UserID,
		Period:       entry.Period,
		Version:      entry.Version,
		Status:       entry.Status,
		Insights:     []model.InsightSignal{},
		CalculatedAt: entry.CalculatedAt,
		ExpiresAt:    entry.ExpiresAt,
	}

	switch entry.Status {
	case model.CacheStatusCompleted:
		if entry.Insights != nil {
			resp.Insights = entry.Insights
		}
		resp.TotalLinks = entry.TotalLinks
		resp.TotalClicks = entry.TotalClicks
	case model.CacheStatusError:
		if entry.Error != nil {
			resp.Error = *entry.Error
		}
	}
	return resp
}

// InvalidateResponse reports how many entries were removed.
type InvalidateResponse struct {
	Removed int64 `json:"removed"`
}

// CleanupResponse reports the result of an expired-entry sweep.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}
