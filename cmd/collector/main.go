package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"labordash/internal/catalog"
	"labordash/internal/config"
	"labordash/internal/ingest"
	"labordash/internal/logging"
	"labordash/internal/metrics"
	"labordash/internal/providers"
	"labordash/internal/providers/bls"
	"labordash/internal/store"
	"labordash/internal/store/csvfile"
	"labordash/internal/store/sqlite"
	"labordash/internal/window"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

type options struct {
	metricsFile string
	verbose     bool
}

func run(args []string) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(1)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Usage = usage
	dataDir := fs.String("data", cfg.DataDir, "dataset directory")
	dbPath := fs.String("db", cfg.DBPath, "sqlite mirror path (empty disables the mirror)")
	catalogPath := fs.String("catalog", cfg.CatalogPath, "series catalog YAML (empty = built-in)")
	revisionMonths := fs.Int("revision-months", cfg.RevisionMonths, "months re-requested before the latest stored date")
	metricsFile := fs.String("metrics-file", "", "write Prometheus textfile metrics to this path")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", cfg.LogFormat, "log format (json, console)")
	verbose := fs.Bool("verbose", false, "print provider messages and skipped record counts")
	fs.Parse(args)

	cfg.DataDir = *dataDir
	cfg.DBPath = *dbPath
	cfg.CatalogPath = *catalogPath
	cfg.RevisionMonths = *revisionMonths
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(2)
	}

	if err := runCollector(cfg, options{metricsFile: *metricsFile, verbose: *verbose}); err != nil {
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collector run [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -data             dataset directory (default: data, env LABORDASH_DATA_DIR)")
	fmt.Fprintln(os.Stderr, "  -db               sqlite mirror path (default: none, env LABORDASH_DB)")
	fmt.Fprintln(os.Stderr, "  -catalog          series catalog YAML (default: built-in, env LABORDASH_CATALOG)")
	fmt.Fprintln(os.Stderr, "  -revision-months  months re-requested before the latest stored date (default: 24)")
	fmt.Fprintln(os.Stderr, "  -metrics-file     write Prometheus textfile metrics")
	fmt.Fprintln(os.Stderr, "  -log-level        debug, info, warn, error (default: info)")
	fmt.Fprintln(os.Stderr, "  -log-format       json, console (default: json)")
	fmt.Fprintln(os.Stderr, "  -verbose          print provider messages and skipped record counts")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "environment:")
	fmt.Fprintln(os.Stderr, "  BLS_API_KEY       optional registration key")
}

func runCollector(cfg config.Config, opts options) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := catalog.Open(cfg.CatalogPath)
	if err != nil {
		return err
	}

	provider, err := buildProvider()
	if err != nil {
		return err
	}

	st, err := csvfile.New(cfg.DataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	mirror, err := openMirror(cfg.DBPath)
	if err != nil {
		return err
	}
	defer mirror.Close()

	recorder := metrics.NewRecorder()
	runner := &ingest.Runner{
		Catalog:  cat,
		Provider: provider,
		Store:    st,
		Mirror:   mirror,
		Policy:   window.Policy{EarliestYear: cat.EarliestYear(), RevisionMonths: cfg.RevisionMonths},
		Logger:   logger,
		Metrics:  recorder,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := runner.Run(ctx)

	if strings.TrimSpace(opts.metricsFile) != "" {
		if err := recorder.WriteTextfile(opts.metricsFile); err != nil {
			logger.Warn("metrics export failed", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	if opts.verbose {
		for _, message := range report.Messages {
			fmt.Fprintf(os.Stderr, "provider message: %s\n", message)
		}
		if skipped := report.Stats.Skipped(); skipped > 0 {
			fmt.Fprintf(os.Stderr, "skipped records=%d (period=%d year=%d value=%d)\n",
				skipped, report.Stats.SkippedPeriod, report.Stats.SkippedYear, report.Stats.SkippedValue)
		}
	}
	if report.FreshnessErr != nil {
		fmt.Fprintf(os.Stderr, "warning: dataset replaced but meta.json not updated: %v\n", report.FreshnessErr)
	}
	if report.MirrorErr != nil {
		fmt.Fprintf(os.Stderr, "warning: mirror not refreshed: %v\n", report.MirrorErr)
	}

	fmt.Printf("collector run complete (window=%d-%d series=%d fetched=%d added=%d revised=%d rows=%d path=%s)\n",
		report.Window.StartYear, report.Window.EndYear, report.Series,
		report.Fetched, report.Added, report.Revised, report.Rows, st.DatasetPath(),
	)
	return nil
}

func buildProvider() (providers.Provider, error) {
	provider, err := bls.New()
	if err != nil {
		return nil, eris.Wrap(err, "build provider")
	}
	return provider, nil
}

func openMirror(path string) (store.Store, error) {
	if strings.TrimSpace(path) == "" {
		return &store.NopStore{}, nil
	}
	return sqlite.New(path)
}
