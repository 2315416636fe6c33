// Package model defines domain entities for the insights service.
package model

import (
	"errors"
	"time"
)

// Period identifies an analysis window.
type Period string

const (
	Period7Days  Period = "7d"
	Period30Days Period = "30d"
	Period90Days Period = "90d"
	PeriodYearly Period = "yearly"
)

// DateLayout is the calendar date format used for analytics dates.
const DateLayout = "2006-01-02"

// ErrInvalidPeriod is returned when a period identifier is not recognised.
var ErrInvalidPeriod = errors.New("invalid period")

// AllPeriods lists every supported period, shortest first.
func AllPeriods() []Period {
	return []Period{Period7Days, Period30Days, Period90Days, PeriodYearly}
}

// ParsePeriod validates a raw period identifier.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.IsValid() {
		return "", ErrInvalidPeriod
	}
	return p, nil
}

// IsValid reports whether the period is supported.
func (p Period) IsValid() bool {
	return p.Days() > 0
}

// Days returns the lookback length in days, or 0 for an unknown period.
func (p Period) Days() int {
	switch p {
	case Period7Days:
		return 7
	case Period30Days:
		return 30
	case Period90Days:
		return 90
	case PeriodYearly:
		return 365
	default:
		return 0
	}
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// StartDate formats the first day of the range.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate formats the last day of the range.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

// Contains reports whether day falls inside the range.
func (r DateRange) Contains(day time.Time) bool {
	d := truncateDay(day)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Windows returns the current window ending on the UTC day of now and the
// equal-length window immediately preceding it.
func (p Period) Windows(now time.Time) (current, previous DateRange) {
	days := p.Days()
	end := truncateDay(now)
	start := end.AddDate(0, 0, -(days - 1))

	prevEnd := start.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(days - 1))

	return DateRange{Start: start, End: end}, DateRange{Start: prevStart, End: prevEnd}
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
