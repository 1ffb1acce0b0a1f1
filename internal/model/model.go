package model

import "time"

// DateLayout is the on-disk date format of the dataset.
const DateLayout = "2006-01-02"

type Frequency string

const (
	FrequencyMonthly   Frequency = "M"
	FrequencyQuarterly Frequency = "Q"
)

// YoYLag is the number of observations separating a period from the same
// period one year earlier.
func (f Frequency) YoYLag() int {
	if f == FrequencyQuarterly {
		return 4
	}
	return 12
}

type Series struct {
	ID                 string    `yaml:"id" validate:"required"`
	Section            string    `yaml:"section" validate:"required"`
	Name               string    `yaml:"name" validate:"required"`
	Frequency          Frequency `yaml:"frequency" validate:"required,oneof=M Q"`
	SeasonallyAdjusted bool      `yaml:"seasonally_adjusted"`
	YoY                bool      `yaml:"yoy"`
}

type Observation struct {
	SeriesID string
	Date     time.Time
	Value    float64
}

type Freshness struct {
	LastUpdatedUTC time.Time
}

// RawRecord is one data point as returned by the agency, before
// normalization. Year and Value are kept as the agency encodes them.
type RawRecord struct {
	Year   string
	Period string
	Value  string
}

type SeriesPayload struct {
	SeriesID string
	Records  []RawRecord
}

type Payload struct {
	Series   []SeriesPayload
	Messages []string
}

func NewDate(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}
