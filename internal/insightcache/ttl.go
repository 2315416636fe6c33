package insightcache

import (
	"time"

	"github.com/penshort/insights/internal/model"
)

// ErrorTTL is how long a failed entry is served before it is recomputed.
const ErrorTTL = time.Hour

// TTLForPeriod returns how long a completed entry for period stays fresh.
// Longer windows change more slowly relative to their length.
func TTLForPeriod(p model.Period) time.Duration {
	switch p {
	case model.Period7Days:
		return 4 * time.Hour
	case model.Period30Days:
		return 12 * time.Hour
	case model.Period90Days:
		return 24 * time.Hour
	case model.PeriodYearly:
		return 48 * time.Hour
	default:
		return 12 * time.Hour
	}
}
