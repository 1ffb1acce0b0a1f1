// Package catalog holds the fixed set of series the collector maintains.
//
// A Catalog is built once at startup and never mutated; components that
// need the earliest supported year or series metadata receive it
// explicitly.
package catalog

import (
	"errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"labordash/internal/model"
)

const DefaultEarliestYear = 2006

var ErrDuplicateSeries = errors.New("catalog: duplicate series id")

type Catalog struct {
	earliestYear int
	series       []model.Series
	byID         map[string]model.Series
	sections     []string
}

type fileFormat struct {
	EarliestYear int            `yaml:"earliest_year" validate:"gte=1900"`
	Series       []model.Series `yaml:"series" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func New(earliestYear int, series []model.Series) (*Catalog, error) {
	spec := fileFormat{EarliestYear: earliestYear, Series: series}
	if err := validate.Struct(spec); err != nil {
		return nil, eris.Wrap(err, "catalog: invalid")
	}

	c := &Catalog{
		earliestYear: earliestYear,
		series:       make([]model.Series, 0, len(series)),
		byID:         make(map[string]model.Series, len(series)),
	}
	seenSection := make(map[string]struct{})
	for _, entry := range series {
		entry.ID = strings.ToUpper(strings.TrimSpace(entry.ID))
		if _, exists := c.byID[entry.ID]; exists {
			return nil, eris.Wrapf(ErrDuplicateSeries, "catalog: %s", entry.ID)
		}
		c.byID[entry.ID] = entry
		c.series = append(c.series, entry)
		if _, ok := seenSection[entry.Section]; !ok {
			seenSection[entry.Section] = struct{}{}
			c.sections = append(c.sections, entry.Section)
		}
	}
	return c, nil
}

// Load reads a YAML catalog. A zero earliest_year falls back to
// DefaultEarliestYear.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var spec fileFormat
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}
	if spec.EarliestYear == 0 {
		spec.EarliestYear = DefaultEarliestYear
	}
	return New(spec.EarliestYear, spec.Series)
}

// Open returns the catalog at path, or the built-in one when path is empty.
func Open(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

func Default() *Catalog {
	c, err := New(DefaultEarliestYear, defaultSeries)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) EarliestYear() int {
	return c.earliestYear
}

func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.series))
	for i, entry := range c.series {
		ids[i] = entry.ID
	}
	return ids
}

func (c *Catalog) Series() []model.Series {
	copied := make([]model.Series, len(c.series))
	copy(copied, c.series)
	return copied
}

func (c *Catalog) Lookup(id string) (model.Series, bool) {
	entry, ok := c.byID[strings.ToUpper(strings.TrimSpace(id))]
	return entry, ok
}

// Sections lists sections in first-appearance order.
func (c *Catalog) Sections() []string {
	copied := make([]string, len(c.sections))
	copy(copied, c.sections)
	return copied
}

var defaultSeries = []model.Series{
	{ID: "LNS12000000", Section: "Employment", Name: "Civilian Employment (Thousands, SA)", Frequency: model.FrequencyMonthly, SeasonallyAdjusted: true},
	{ID: "CES0000000001", Section: "Employment", Name: "Total Nonfarm Employment (Thousands, SA)", Frequency: model.FrequencyMonthly, SeasonallyAdjusted: true},
	{ID: "LNS14000000", Section: "Employment", Name: "Unemployment Rate (% SA)", Frequency: model.FrequencyMonthly, SeasonallyAdjusted: true},
	{ID: "CES0500000002", Section: "Employment", Name: "Avg Weekly Hours, Total Private (SA)", Frequency: model.FrequencyMonthly, SeasonallyAdjusted: true},
	{ID: "CES0500000003", Section: "Employment", Name: "Avg Hourly Earnings, Total Private ($, SA)", Frequency: model.FrequencyMonthly, SeasonallyAdjusted: true, YoY: true},
	{ID: "PRS85006093", Section: "Productivity", Name: "Output per Hour - Nonfarm Business (Q/Q %)", Frequency: model.FrequencyQuarterly, SeasonallyAdjusted: true},
	{ID: "CUUR0000SA0", Section: "Price Index", Name: "CPI-U All Items (NSA, 1982-84=100)", Frequency: model.FrequencyMonthly, YoY: true},
	{ID: "CIU1010000000000I", Section: "Compensation", Name: "ECI - Total Compensation, Private (Index, NSA)", Frequency: model.FrequencyQuarterly, YoY: true},
	{ID: "CIU1010000000000A", Section: "Compensation", Name: "ECI - Total Compensation, Private (12m % change, NSA)", Frequency: model.FrequencyQuarterly},
}
