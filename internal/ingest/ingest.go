// Package ingest runs one collection cycle: select the request window from
// the stored dataset, fetch every catalog series in a single request,
// normalize, merge and replace the stored dataset.
//
// A cycle either persists a complete merged dataset or writes nothing to
// the dataset of record.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"labordash/internal/catalog"
	"labordash/internal/merge"
	"labordash/internal/metrics"
	"labordash/internal/model"
	"labordash/internal/period"
	"labordash/internal/providers"
	"labordash/internal/store"
	"labordash/internal/window"
)

type State string

const (
	StateIdle           State = "idle"
	StateWindowSelected State = "window_selected"
	StateFetching       State = "fetching"
	StateFetchFailed    State = "fetch_failed"
	StateNormalizing    State = "normalizing"
	StateMerging        State = "merging"
	StatePersisted      State = "persisted"
)

// Failure kinds reported to metrics.
const (
	FailureTransport = "transport"
	FailureBusiness  = "business"
	FailureStore     = "store"
	FailureOther     = "other"
)

type Runner struct {
	Catalog  *catalog.Catalog
	Provider providers.Provider
	Store    store.Store

	// Mirror, when set, receives a copy of the dataset after Store has been
	// replaced. Mirror errors are logged and reported, never returned.
	Mirror  store.Store
	Policy  window.Policy
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

type Report struct {
	RunID     string
	State     State
	Window    window.Window
	Series    int
	Fetched   int
	Stats     period.Stats
	Added     int
	Revised   int
	Unchanged int
	Rows      int
	Messages  []string
	Updated   time.Time
	Duration  time.Duration
	MirrorErr error

	// FreshnessErr is set when the dataset was replaced but its freshness
	// record was not. The cycle still counts as persisted.
	FreshnessErr error
}

func (r *Runner) Run(ctx context.Context) (Report, error) {
	if r.Catalog == nil || r.Provider == nil || r.Store == nil {
		return Report{}, eris.New("ingest: catalog, provider and store are required")
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	started := now()
	report := Report{
		RunID:  uuid.NewString(),
		State:  StateIdle,
		Series: len(r.Catalog.IDs()),
	}
	log := logger.With(zap.String("run_id", report.RunID), zap.String("provider", r.Provider.Name()))

	fail := func(kind string, err error) (Report, error) {
		report.Duration = now().Sub(started)
		if r.Metrics != nil {
			r.Metrics.Failure(kind, report.Duration.Seconds())
		}
		log.Error("cycle failed", zap.String("state", string(report.State)), zap.String("kind", kind), zap.Error(err))
		return report, err
	}

	existing, err := r.Store.LoadObservations(ctx)
	if err != nil {
		return fail(FailureStore, eris.Wrap(err, "ingest: load dataset"))
	}

	report.Window = r.Policy.Select(existing, now())
	report.State = StateWindowSelected
	log.Info("window selected",
		zap.Int("start_year", report.Window.StartYear),
		zap.Int("end_year", report.Window.EndYear),
		zap.Int("stored_rows", len(existing)),
	)

	report.State = StateFetching
	payload, err := r.Provider.FetchSeries(ctx, r.Catalog.IDs(), report.Window.StartYear, report.Window.EndYear)
	if err != nil {
		report.State = StateFetchFailed
		return fail(FailureKind(err), eris.Wrap(err, "ingest: fetch"))
	}
	report.Messages = payload.Messages
	for _, message := range payload.Messages {
		log.Warn("provider message", zap.String("message", message))
	}

	report.State = StateNormalizing
	fresh, stats := period.Rows(payload)
	report.Fetched = len(fresh)
	report.Stats = stats
	if stats.Skipped() > 0 {
		log.Debug("records skipped",
			zap.Int("period", stats.SkippedPeriod),
			zap.Int("year", stats.SkippedYear),
			zap.Int("value", stats.SkippedValue),
		)
	}
	for _, series := range payload.Series {
		if _, ok := r.Catalog.Lookup(series.SeriesID); !ok {
			log.Warn("series not in catalog", zap.String("series", series.SeriesID))
		}
	}

	report.State = StateMerging
	merged := merge.Merge(existing, fresh)
	report.Added = merged.Added
	report.Revised = merged.Revised
	report.Unchanged = merged.Unchanged
	report.Rows = len(merged.Rows)

	freshness := model.Freshness{LastUpdatedUTC: now().UTC().Truncate(time.Second)}
	if err := r.Store.ReplaceObservations(ctx, merged.Rows, freshness); err != nil {
		var stale *store.StaleFreshnessError
		if !errors.As(err, &stale) {
			return fail(FailureStore, eris.Wrap(err, "ingest: persist dataset"))
		}
		report.FreshnessErr = err
		log.Warn("freshness record not updated", zap.Error(err))
	}
	report.State = StatePersisted
	report.Updated = freshness.LastUpdatedUTC

	if r.Mirror != nil {
		if err := r.Mirror.ReplaceObservations(ctx, merged.Rows, freshness); err != nil {
			report.MirrorErr = err
			log.Warn("mirror refresh failed", zap.Error(err))
		}
	}

	log.Info("cycle complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("added", report.Added),
		zap.Int("revised", report.Revised),
		zap.Int("rows", report.Rows),
	)
	report.Duration = now().Sub(started)
	if r.Metrics != nil {
		r.Metrics.Success(metrics.Cycle{
			Fetched: report.Fetched,
			Added:   report.Added,
			Revised: report.Revised,
			Skipped: report.Stats.Skipped(),
			Rows:    report.Rows,
			Seconds: report.Duration.Seconds(),
		}, float64(report.Updated.Unix()))
	}
	return report, nil
}

// FailureKind classifies a fetch error.
func FailureKind(err error) string {
	switch {
	case errors.Is(err, providers.ErrTransport):
		return FailureTransport
	case errors.Is(err, providers.ErrRejected):
		return FailureBusiness
	default:
		return FailureOther
	}
}
