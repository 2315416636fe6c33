package model

// AggregatedMetrics is a per-run snapshot of one user's analytics for a period.
// It is never persisted on its own.
type AggregatedMetrics struct {
	UserID    string `json:"user_id"`
	Period    Period `json:"period"`
	StartDate string `json:"start_date"` // YYYY-MM-DD, inclusive
	EndDate   string `json:"end_date"`   // YYYY-MM-DD, inclusive

	TotalLinks  int64 `json:"total_links"`
	ActiveLinks int64 `json:"active_links"`
	TotalClicks int64 `json:"total_clicks"`

	PreviousPeriod PreviousPeriod `json:"previous_period"`

	TopLinks     []LinkClicks  `json:"top_links"`
	TopCountries []KeyedClicks `json:"top_countries"`
	TopSources   []KeyedClicks `json:"top_sources"`
	TopDevices   []KeyedClicks `json:"top_devices"`

	// DailyClicks holds one point per day of the window, oldest first.
	DailyClicks []DailyClicks `json:"daily_clicks"`

	// ClicksByDayOfWeek is indexed by weekday, Sunday = 0.
	ClicksByDayOfWeek [7]int64 `json:"clicks_by_day_of_week"`
}

// PreviousPeriod summarises the equal-length window before the current one.
type PreviousPeriod struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	TotalClicks int64  `json:"total_clicks"`
}

// LinkClicks is a link ranked by clicks.
type LinkClicks struct {
	LinkID    string `json:"link_id"`
	ShortCode string `json:"short_code"`
	Clicks    int64  `json:"clicks"`
}

// KeyedClicks is a breakdown bucket (country code, source domain, device).
type KeyedClicks struct {
	Key    string `json:"key"`
	Clicks int64  `json:"clicks"`
}

// DailyClicks is a single point of the daily time series.
type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int64  `json:"clicks"`
}

// Top list caps.
const (
	TopLinksLimit     = 10
	TopCountriesLimit = 10
	TopSourcesLimit   = 10
	TopDevicesLimit   = 5
)

// EmptyMetrics returns an all-zero snapshot for the given user and period.
func EmptyMetrics(userID string, period Period, current, previous DateRange) *AggregatedMetrics {
	return &AggregatedMetrics{
		UserID:       userID,
		Period:       period,
		StartDate:    current.StartDate(),
		EndDate:      current.EndDate(),
		TopLinks:     []LinkClicks{},
		TopCountries: []KeyedClicks{},
		TopSources:   []KeyedClicks{},
		TopDevices:   []KeyedClicks{},
		DailyClicks:  []DailyClicks{},
		PreviousPeriod: PreviousPeriod{
			StartDate: previous.StartDate(),
			EndDate:   previous.EndDate(),
		},
	}
}
