package period

import (
	"strconv"
	"strings"
	"time"

	"labordash/internal/model"
)

// AnnualAverage is the agency's placeholder period for a yearly mean.
const AnnualAverage = "M13"

var quarterEndMonth = map[int]time.Month{
	1: time.March,
	2: time.June,
	3: time.September,
	4: time.December,
}

// Normalize maps an agency period code to the first day of its month.
// Quarterly codes resolve to the last month of the quarter. The second
// result is false for codes that carry no calendar period.
func Normalize(year int, code string) (time.Time, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == AnnualAverage {
		return time.Time{}, false
	}

	switch code[0] {
	case 'M':
		month, ok := parseIndex(code[1:], 12)
		if !ok {
			return time.Time{}, false
		}
		return model.NewDate(year, time.Month(month)), true
	case 'Q':
		quarter, ok := parseIndex(code[1:], 4)
		if !ok {
			return time.Time{}, false
		}
		return model.NewDate(year, quarterEndMonth[quarter]), true
	default:
		return time.Time{}, false
	}
}

func parseIndex(value string, max int) (int, bool) {
	if value == "" || !isDigits(value) {
		return 0, false
	}
	index, err := strconv.Atoi(value)
	if err != nil || index < 1 || index > max {
		return 0, false
	}
	return index, true
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type Stats struct {
	Records       int
	Rows          int
	SkippedPeriod int
	SkippedYear   int
	SkippedValue  int
}

func (s Stats) Skipped() int {
	return s.SkippedPeriod + s.SkippedYear + s.SkippedValue
}

// Rows flattens agency payloads into observations. Records that cannot be
// placed on the calendar or carry no numeric value are dropped and counted.
func Rows(payload model.Payload) ([]model.Observation, Stats) {
	var stats Stats
	rows := make([]model.Observation, 0)
	for _, series := range payload.Series {
		seriesID := strings.TrimSpace(series.SeriesID)
		for _, record := range series.Records {
			stats.Records++

			year, err := strconv.Atoi(strings.TrimSpace(record.Year))
			if err != nil {
				stats.SkippedYear++
				continue
			}
			date, ok := Normalize(year, record.Period)
			if !ok {
				stats.SkippedPeriod++
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(record.Value), 64)
			if err != nil {
				stats.SkippedValue++
				continue
			}

			rows = append(rows, model.Observation{
				SeriesID: seriesID,
				Date:     date,
				Value:    value,
			})
		}
	}
	stats.Rows = len(rows)
	return rows, stats
}
