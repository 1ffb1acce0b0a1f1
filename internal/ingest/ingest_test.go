package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"labordash/internal/catalog"
	"labordash/internal/metrics"
	"labordash/internal/model"
	"labordash/internal/providers"
	"labordash/internal/store"
	"labordash/internal/store/csvfile"
	"labordash/internal/store/sqlite"
	"labordash/internal/window"
)

type fakeProvider struct {
	payload model.Payload
	err     error

	calls     int
	ids       []string
	startYear int
	endYear   int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchSeries(ctx context.Context, seriesIDs []string, startYear, endYear int) (model.Payload, error) {
	p.calls++
	p.ids = seriesIDs
	p.startYear = startYear
	p.endYear = endYear
	return p.payload, p.err
}

type brokenStore struct{}

func (brokenStore) LoadObservations(context.Context) ([]model.Observation, error) {
	return nil, nil
}

func (brokenStore) ReplaceObservations(context.Context, []model.Observation, model.Freshness) error {
	return errors.New("disk full")
}

func (brokenStore) LoadFreshness(context.Context) (model.Freshness, error) {
	return model.Freshness{}, nil
}

func (brokenStore) Close() error { return nil }

type unreadableStore struct {
	brokenStore
}

func (unreadableStore) LoadObservations(context.Context) ([]model.Observation, error) {
	return nil, errors.New("permission denied")
}

var fixedNow = time.Date(2024, time.May, 10, 14, 0, 0, 0, time.UTC)

func newRunner(t *testing.T, provider *fakeProvider) (*Runner, *csvfile.Store) {
	t.Helper()
	st, err := csvfile.New(t.TempDir())
	require.NoError(t, err)
	cat := catalog.Default()
	return &Runner{
		Catalog:  cat,
		Provider: provider,
		Store:    st,
		Policy:   window.Policy{EarliestYear: cat.EarliestYear(), RevisionMonths: window.DefaultRevisionMonths},
		Now:      func() time.Time { return fixedNow },
	}, st
}

func cpi(records ...model.RawRecord) model.Payload {
	return model.Payload{Series: []model.SeriesPayload{{SeriesID: "CUUR0000SA0", Records: records}}}
}

func promText(t *testing.T, recorder *metrics.Recorder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labordash.prom")
	require.NoError(t, recorder.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRunFirstCycle(t *testing.T) {
	provider := &fakeProvider{payload: cpi(
		model.RawRecord{Year: "2023", Period: "M01", Value: "299.170"},
		model.RawRecord{Year: "2023", Period: "M13", Value: "304.702"},
	)}
	runner, st := newRunner(t, provider)
	recorder := metrics.NewRecorder()
	runner.Metrics = recorder

	report, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatePersisted, report.State)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, window.Window{StartYear: 2006, EndYear: 2024}, report.Window)
	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, catalog.Default().IDs(), provider.ids)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Stats.SkippedPeriod)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Rows)

	data, err := os.ReadFile(st.DatasetPath())
	require.NoError(t, err)
	assert.Equal(t, "series_id,date,value\nCUUR0000SA0,2023-01-01,299.17\n", string(data))

	freshness, err := st.LoadFreshness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, freshness.LastUpdatedUTC)

	text := promText(t, recorder)
	assert.Contains(t, text, "labordash_dataset_rows 1")
	assert.Contains(t, text, "labordash_cycle_skipped_records 1")
}

func TestRunRevisesRecentData(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{payload: cpi(
		model.RawRecord{Year: "2023", Period: "M02", Value: "300.840"},
		model.RawRecord{Year: "2023", Period: "M03", Value: "301.836"},
	)}
	runner, st := newRunner(t, provider)

	stored := []model.Observation{
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.January), Value: 299.170},
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.February), Value: 300.000},
		{SeriesID: "LNS14000000", Date: model.NewDate(2006, time.January), Value: 4.7},
	}
	require.NoError(t, st.ReplaceObservations(ctx, stored, model.Freshness{LastUpdatedUTC: fixedNow.AddDate(0, -1, 0)}))

	report, err := runner.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2021, provider.startYear)
	assert.Equal(t, 2024, provider.endYear)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Revised)
	assert.Equal(t, 4, report.Rows)

	rows, err := st.LoadObservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Observation{
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.January), Value: 299.170},
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.February), Value: 300.840},
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.March), Value: 301.836},
		{SeriesID: "LNS14000000", Date: model.NewDate(2006, time.January), Value: 4.7},
	}, rows)
}

func TestRunFetchFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{err: fmt.Errorf("fake: threshold reached: %w", providers.ErrRejected)}
	runner, st := newRunner(t, provider)
	recorder := metrics.NewRecorder()
	runner.Metrics = recorder

	stored := []model.Observation{{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.January), Value: 299.17}}
	require.NoError(t, st.ReplaceObservations(ctx, stored, model.Freshness{LastUpdatedUTC: fixedNow.AddDate(0, 0, -7)}))
	before, err := os.ReadFile(st.DatasetPath())
	require.NoError(t, err)
	metaBefore, err := os.ReadFile(st.MetaPath())
	require.NoError(t, err)

	report, err := runner.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFetchFailed, report.State)
	assert.ErrorIs(t, err, providers.ErrRejected)
	assert.Equal(t, FailureBusiness, FailureKind(err))

	after, err := os.ReadFile(st.DatasetPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	metaAfter, err := os.ReadFile(st.MetaPath())
	require.NoError(t, err)
	assert.Equal(t, metaBefore, metaAfter)

	assert.Contains(t, promText(t, recorder), `labordash_cycle_failed{kind="business"} 1`)
}

func TestRunTransportFailureKind(t *testing.T) {
	provider := &fakeProvider{err: fmt.Errorf("fake: HTTP 503: %w", providers.ErrTransport)}
	runner, _ := newRunner(t, provider)
	recorder := metrics.NewRecorder()
	runner.Metrics = recorder

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureTransport, FailureKind(err))
	assert.Contains(t, promText(t, recorder), `labordash_cycle_failed{kind="transport"} 1`)
}

func TestRunPersistFailure(t *testing.T) {
	provider := &fakeProvider{payload: cpi(model.RawRecord{Year: "2023", Period: "M01", Value: "1"})}
	runner, _ := newRunner(t, provider)
	runner.Store = brokenStore{}

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateMerging, report.State)
	assert.ErrorContains(t, err, "disk full")
}

func TestRunMirror(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{payload: cpi(model.RawRecord{Year: "2024", Period: "M01", Value: "308.417"})}
	runner, _ := newRunner(t, provider)

	mirror, err := sqlite.New(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mirror.Close() })
	runner.Mirror = mirror

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.NoError(t, report.MirrorErr)

	rows, err := mirror.LoadObservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Observation{
		{SeriesID: "CUUR0000SA0", Date: model.NewDate(2024, time.January), Value: 308.417},
	}, rows)
}

func TestRunMirrorFailureIsNotFatal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	provider := &fakeProvider{payload: model.Payload{
		Series: []model.SeriesPayload{
			{SeriesID: "CUUR0000SA0", Records: []model.RawRecord{{Year: "2024", Period: "M01", Value: "308.417"}}},
		},
		Messages: []string{"No Data Available for Series CIU1010000000000A Year: 2024"},
	}}
	runner, st := newRunner(t, provider)
	runner.Mirror = brokenStore{}
	runner.Logger = zap.New(core)

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, report.State)
	assert.Error(t, report.MirrorErr)
	assert.Len(t, report.Messages, 1)

	rows, err := st.LoadObservations(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	assert.Equal(t, 1, logs.FilterMessage("mirror refresh failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("provider message").Len())
}

func TestRunRequiresDependencies(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background())
	assert.Error(t, err)
}

func TestRunLoadFailureSkipsFetch(t *testing.T) {
	provider := &fakeProvider{payload: cpi(model.RawRecord{Year: "2023", Period: "M01", Value: "1"})}
	runner, _ := newRunner(t, provider)
	runner.Store = unreadableStore{}
	recorder := metrics.NewRecorder()
	runner.Metrics = recorder

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, StateIdle, report.State)
	assert.Zero(t, provider.calls)
	assert.Contains(t, promText(t, recorder), `labordash_cycle_failed{kind="store"} 1`)
}

func TestRunStaleFreshnessStillPersists(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{payload: cpi(model.RawRecord{Year: "2023", Period: "M02", Value: "15"})}
	runner, st := newRunner(t, provider)
	recorder := metrics.NewRecorder()
	runner.Metrics = recorder

	stored := []model.Observation{{SeriesID: "CUUR0000SA0", Date: model.NewDate(2023, time.January), Value: 10}}
	require.NoError(t, st.ReplaceObservations(ctx, stored, model.Freshness{LastUpdatedUTC: fixedNow.AddDate(0, -1, 0)}))
	require.NoError(t, os.Remove(st.MetaPath()))
	require.NoError(t, os.Mkdir(st.MetaPath(), 0o755))

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatePersisted, report.State)
	var stale *store.StaleFreshnessError
	assert.True(t, errors.As(report.FreshnessErr, &stale))

	data, err := os.ReadFile(st.DatasetPath())
	require.NoError(t, err)
	assert.Equal(t, "series_id,date,value\nCUUR0000SA0,2023-01-01,10\nCUUR0000SA0,2023-02-01,15\n", string(data))

	text := promText(t, recorder)
	assert.Contains(t, text, "labordash_dataset_rows 2")
	assert.NotContains(t, text, "labordash_cycle_failed{")
}
