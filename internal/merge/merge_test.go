package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labordash/internal/model"
)

func row(id string, year int, month time.Month, value float64) model.Observation {
	return model.Observation{SeriesID: id, Date: model.NewDate(year, month), Value: value}
}

func TestMergeNewerWins(t *testing.T) {
	old := []model.Observation{
		row("CUUR0000SA0", 2023, time.January, 299.170),
		row("CUUR0000SA0", 2023, time.February, 300.000),
	}
	fresh := []model.Observation{
		row("CUUR0000SA0", 2023, time.February, 300.840),
		row("CUUR0000SA0", 2023, time.March, 301.836),
	}

	result := Merge(old, fresh)

	assert.Equal(t, []model.Observation{
		row("CUUR0000SA0", 2023, time.January, 299.170),
		row("CUUR0000SA0", 2023, time.February, 300.840),
		row("CUUR0000SA0", 2023, time.March, 301.836),
	}, result.Rows)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Revised)
	assert.Equal(t, 0, result.Unchanged)
}

func TestMergeKeepsRowsMissingFromFresh(t *testing.T) {
	old := []model.Observation{
		row("LNS14000000", 2006, time.January, 4.7),
		row("PRS85006093", 2006, time.March, 3.1),
	}
	fresh := []model.Observation{row("LNS14000000", 2024, time.January, 3.7)}

	result := Merge(old, fresh)

	require.Len(t, result.Rows, 3)
	assert.Contains(t, result.Rows, old[0])
	assert.Contains(t, result.Rows, old[1])
}

func TestMergeIdempotent(t *testing.T) {
	rows := []model.Observation{
		row("B", 2020, time.June, 2),
		row("A", 2020, time.March, 1),
	}

	first := Merge(nil, rows)
	second := Merge(first.Rows, rows)

	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, 2, second.Unchanged)
	assert.Zero(t, second.Added)
	assert.Zero(t, second.Revised)
}

func TestMergeSortedAndUnique(t *testing.T) {
	fresh := []model.Observation{
		row("B", 2021, time.January, 1),
		row("A", 2021, time.February, 2),
		row("A", 2021, time.January, 3),
		row("A", 2021, time.January, 4),
	}

	result := Merge(nil, fresh)

	assert.Equal(t, []model.Observation{
		row("A", 2021, time.January, 4),
		row("A", 2021, time.February, 2),
		row("B", 2021, time.January, 1),
	}, result.Rows)
	assert.Equal(t, 3, result.Added)
}

func TestMergeInputOrderIndependent(t *testing.T) {
	old := []model.Observation{row("A", 2020, time.January, 1), row("A", 2020, time.February, 2)}
	fresh := []model.Observation{row("A", 2020, time.March, 3), row("A", 2020, time.February, 5)}
	reversed := []model.Observation{fresh[1], fresh[0]}

	assert.Equal(t, Merge(old, fresh).Rows, Merge(old, reversed).Rows)
}

func TestMergeEmpty(t *testing.T) {
	result := Merge(nil, nil)
	assert.Empty(t, result.Rows)
	assert.NotNil(t, result.Rows)
}

func TestMergeRevisionReplacesSingleRow(t *testing.T) {
	old := []model.Observation{row("S1", 2023, time.January, 10)}
	fresh := []model.Observation{row("S1", 2023, time.January, 12), row("S1", 2023, time.February, 15)}

	result := Merge(old, fresh)

	assert.Equal(t, []model.Observation{
		row("S1", 2023, time.January, 12),
		row("S1", 2023, time.February, 15),
	}, result.Rows)
}
