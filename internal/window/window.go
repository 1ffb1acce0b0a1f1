// Package window chooses the year range a collection cycle requests.
//
// The agency revises recent observations, so each cycle re-requests a
// trailing span ending at the latest stored date instead of only the
// periods that are missing.
package window

import (
	"time"

	"labordash/internal/model"
)

const DefaultRevisionMonths = 24

type Policy struct {
	EarliestYear   int
	RevisionMonths int
}

type Window struct {
	StartYear int
	EndYear   int
}

// Select returns the window for the next request. An empty dataset starts
// at EarliestYear; otherwise the start is the year of the latest stored
// date minus RevisionMonths, never earlier than EarliestYear and never
// later than the end year.
func (p Policy) Select(rows []model.Observation, now time.Time) Window {
	end := now.UTC().Year()
	start := p.EarliestYear

	if latest, ok := maxDate(rows); ok {
		months := p.RevisionMonths
		if months < 0 {
			months = 0
		}
		back := latest.AddDate(0, -months, 0).Year()
		if back > start {
			start = back
		}
	}
	if start > end {
		start = end
	}
	return Window{StartYear: start, EndYear: end}
}

func maxDate(rows []model.Observation) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, row := range rows {
		if !found || row.Date.After(latest) {
			latest = row.Date
			found = true
		}
	}
	return latest, found
}
