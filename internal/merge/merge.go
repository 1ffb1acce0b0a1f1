// Package merge combines the stored dataset with freshly fetched
// observations.
package merge

import (
	"sort"

	"labordash/internal/model"
)

type key struct {
	seriesID string
	date     string
}

func keyOf(row model.Observation) key {
	return key{seriesID: row.SeriesID, date: row.Date.UTC().Format(model.DateLayout)}
}

type Result struct {
	Rows      []model.Observation
	Added     int
	Revised   int
	Unchanged int
}

// Merge returns the union of old and fresh keyed by (series_id, date).
// Fresh values replace stored ones, keys absent from fresh keep their old
// rows, and the result is sorted by series then date.
func Merge(old, fresh []model.Observation) Result {
	byKey := make(map[key]model.Observation, len(old)+len(fresh))
	for _, row := range old {
		byKey[keyOf(row)] = row
	}

	var result Result
	seen := make(map[key]struct{}, len(fresh))
	for _, row := range fresh {
		k := keyOf(row)
		previous, existed := byKey[k]
		byKey[k] = row

		// a key repeated within fresh is counted once, against its stored value
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		switch {
		case !existed:
			result.Added++
		case previous.Value != row.Value:
			result.Revised++
		default:
			result.Unchanged++
		}
	}

	result.Rows = make([]model.Observation, 0, len(byKey))
	for _, row := range byKey {
		result.Rows = append(result.Rows, row)
	}
	Sort(result.Rows)
	return result
}

// Sort orders rows by series id, then date.
func Sort(rows []model.Observation) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SeriesID != rows[j].SeriesID {
			return rows[i].SeriesID < rows[j].SeriesID
		}
		return rows[i].Date.Before(rows[j].Date)
	})
}
