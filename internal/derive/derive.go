// Package derive computes values the dashboard shows alongside the raw
// series.
package derive

import (
	"time"

	"labordash/internal/model"
)

type Point struct {
	Date  time.Time
	Value float64
}

// YoY returns the percentage change against the observation lag places
// earlier, (v[t] / v[t-lag] - 1) * 100. rows must belong to one series and
// be sorted by date. Points without a usable base (the first lag rows, or
// a zero base) are omitted.
func YoY(rows []model.Observation, lag int) []Point {
	if lag <= 0 {
		return nil
	}
	points := make([]Point, 0, len(rows))
	for i := lag; i < len(rows); i++ {
		base := rows[i-lag].Value
		if base == 0 {
			continue
		}
		points = append(points, Point{
			Date:  rows[i].Date,
			Value: (rows[i].Value/base - 1) * 100,
		})
	}
	return points
}

// BySeries groups rows by series id, keeping their relative order.
func BySeries(rows []model.Observation) map[string][]model.Observation {
	out := make(map[string][]model.Observation)
	for _, row := range rows {
		out[row.SeriesID] = append(out[row.SeriesID], row)
	}
	return out
}

// Between keeps rows whose year falls in [fromYear, toYear]. A zero bound
// is open.
func Between(rows []model.Observation, fromYear, toYear int) []model.Observation {
	out := make([]model.Observation, 0, len(rows))
	for _, row := range rows {
		year := row.Date.Year()
		if fromYear != 0 && year < fromYear {
			continue
		}
		if toYear != 0 && year > toYear {
			continue
		}
		out = append(out, row)
	}
	return out
}
