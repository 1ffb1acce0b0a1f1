package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"labordash/internal/atomicfile"
	"labordash/internal/catalog"
	"labordash/internal/config"
	"labordash/internal/derive"
	"labordash/internal/logging"
	"labordash/internal/merge"
	"labordash/internal/model"
	"labordash/internal/store"
	"labordash/internal/store/csvfile"
	"labordash/internal/store/sqlite"
)

type metaFile struct {
	GeneratedAt    string           `json:"generated_at"`
	LastUpdatedUTC string           `json:"last_updated_utc,omitempty"`
	Sections       []string         `json:"sections"`
	Recessions     []recessionRange `json:"recessions"`
}

type recessionRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type latestFile struct {
	GeneratedAt string        `json:"generated_at"`
	Rows        []latestEntry `json:"rows"`
}

type latestEntry struct {
	SeriesID           string   `json:"series_id"`
	Section            string   `json:"section"`
	Name               string   `json:"name"`
	Frequency          string   `json:"frequency"`
	SeasonallyAdjusted bool     `json:"seasonally_adjusted"`
	Observations       int      `json:"observations"`
	Date               string   `json:"date,omitempty"`
	Value              *float64 `json:"value,omitempty"`
	YoYDate            string   `json:"yoy_date,omitempty"`
	YoYPct             *float64 `json:"yoy_pct,omitempty"`
}

// NBER-dated contractions shaded on the charts.
var recessions = []recessionRange{
	{Start: "2007-12-01", End: "2009-06-01"},
	{Start: "2020-02-01", End: "2020-04-01"},
}

type filter struct {
	sections []string
	fromYear int
	toYear   int
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		build(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func build(args []string) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("build", flag.ExitOnError)
	fs.Usage = usage
	outDir := fs.String("out", "site/data", "output directory")
	dataDir := fs.String("data", cfg.DataDir, "dataset directory")
	dbPath := fs.String("db", cfg.DBPath, "read the sqlite mirror instead of the CSV dataset")
	catalogPath := fs.String("catalog", cfg.CatalogPath, "series catalog YAML (empty = built-in)")
	sectionsCSV := fs.String("sections", "", "comma-separated sections to publish (empty = all)")
	fromYear := fs.Int("from", 0, "first year to include (0 = no bound)")
	toYear := fs.Int("to", 0, "last year to include (0 = no bound)")
	fs.Parse(args)

	if *fromYear != 0 && *toYear != 0 && *toYear < *fromYear {
		fmt.Fprintln(os.Stderr, "publisher build failed: -to before -from")
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	cat, err := catalog.Open(*catalogPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		os.Exit(1)
	}

	st, err := openStore(*dataDir, *dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open dataset:", err)
		os.Exit(1)
	}
	defer st.Close()

	f := filter{sections: parseList(*sectionsCSV), fromYear: *fromYear, toYear: *toYear}
	rows, err := publish(context.Background(), st, cat, f, *outDir, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		os.Exit(1)
	}

	logger.Info("feed written", zap.String("out", *outDir), zap.Int("series", rows))
	fmt.Printf("publisher build complete (out=%s series=%d)\n", *outDir, rows)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: publisher build [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -out       output directory (default: site/data)")
	fmt.Fprintln(os.Stderr, "  -data      dataset directory (default: data)")
	fmt.Fprintln(os.Stderr, "  -db        read the sqlite mirror instead of the CSV dataset")
	fmt.Fprintln(os.Stderr, "  -catalog   series catalog YAML (default: built-in)")
	fmt.Fprintln(os.Stderr, "  -sections  comma-separated sections to publish (default: all)")
	fmt.Fprintln(os.Stderr, "  -from      first year to include")
	fmt.Fprintln(os.Stderr, "  -to        last year to include")
}

func openStore(dataDir, dbPath string) (store.Store, error) {
	if strings.TrimSpace(dbPath) != "" {
		return sqlite.New(dbPath)
	}
	return csvfile.New(dataDir)
}

// publish writes meta.json and latest.json and returns the number of
// series entries written.
func publish(ctx context.Context, st store.Store, cat *catalog.Catalog, f filter, outDir string, now time.Time) (int, error) {
	rows, err := st.LoadObservations(ctx)
	if err != nil {
		return 0, err
	}
	freshness, err := st.LoadFreshness(ctx)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return 0, eris.Wrap(err, "create output dir")
	}

	generatedAt := now.UTC().Format(time.RFC3339)
	meta := metaFile{
		GeneratedAt: generatedAt,
		Sections:    selectedSections(cat, f.sections),
		Recessions:  recessions,
	}
	if !freshness.LastUpdatedUTC.IsZero() {
		meta.LastUpdatedUTC = freshness.LastUpdatedUTC.UTC().Format(time.RFC3339)
	}
	if err := writeJSON(filepath.Join(outDir, "meta.json"), meta); err != nil {
		return 0, eris.Wrap(err, "write meta.json")
	}

	latest := buildLatest(cat, derive.Between(rows, f.fromYear, f.toYear), f.sections)
	if err := writeJSON(filepath.Join(outDir, "latest.json"), latestFile{GeneratedAt: generatedAt, Rows: latest}); err != nil {
		return 0, eris.Wrap(err, "write latest.json")
	}
	return len(latest), nil
}

func buildLatest(cat *catalog.Catalog, rows []model.Observation, sections []string) []latestEntry {
	bySeries := derive.BySeries(rows)
	wanted := sectionSet(sections)

	results := make([]latestEntry, 0, len(cat.Series()))
	for _, series := range cat.Series() {
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToUpper(series.Section)]; !ok {
				continue
			}
		}

		history := bySeries[series.ID]
		merge.Sort(history)

		entry := latestEntry{
			SeriesID:           series.ID,
			Section:            series.Section,
			Name:               series.Name,
			Frequency:          string(series.Frequency),
			SeasonallyAdjusted: series.SeasonallyAdjusted,
			Observations:       len(history),
		}
		if len(history) > 0 {
			last := history[len(history)-1]
			value := last.Value
			entry.Date = last.Date.Format(model.DateLayout)
			entry.Value = &value
		}
		if series.YoY {
			if points := derive.YoY(history, series.Frequency.YoYLag()); len(points) > 0 {
				last := points[len(points)-1]
				pct := last.Value
				entry.YoYDate = last.Date.Format(model.DateLayout)
				entry.YoYPct = &pct
			}
		}
		results = append(results, entry)
	}
	return results
}

func selectedSections(cat *catalog.Catalog, sections []string) []string {
	wanted := sectionSet(sections)
	out := make([]string, 0, len(cat.Sections()))
	for _, section := range cat.Sections() {
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToUpper(section)]; !ok {
				continue
			}
		}
		out = append(out, section)
	}
	return out
}

func sectionSet(sections []string) map[string]struct{} {
	set := make(map[string]struct{}, len(sections))
	for _, section := range sections {
		set[strings.ToUpper(section)] = struct{}{}
	}
	return set
}

func writeJSON(path string, value any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return atomicfile.WriteFile(path, buf.Bytes())
}

func parseList(value string) []string {
	raw := strings.Split(value, ",")
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		items = append(items, strings.ToUpper(trimmed))
	}
	return items
}
