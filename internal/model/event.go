package model

import "time"

// InsightsEvent announces that a cache entry reached a terminal state.
type InsightsEvent struct {
	UserID     string      `json:"user_id"`
	Period     Period      `json:"period"`
	Version    string      `json:"version"`
	Status     CacheStatus `json:"status"`
	Outcome    string      `json:"outcome"`
	InputsHash string      `json:"inputs_hash,omitempty"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}
