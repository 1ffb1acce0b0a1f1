// Package csvfile keeps the dataset of record as a CSV file plus a small
// JSON freshness record, both in one data directory.
//
// Every write goes through internal/atomicfile, so a reader sees either
// the previous file or the new one.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"labordash/internal/atomicfile"
	"labordash/internal/model"
	"labordash/internal/store"
)

const (
	DatasetFile = "bls_timeseries.csv"
	MetaFile    = "meta.json"
)

type csvRow struct {
	SeriesID string `csv:"series_id"`
	Date     string `csv:"date"`
	Value    string `csv:"value"`
}

type metaRecord struct {
	LastUpdatedUTC string `json:"last_updated_utc"`
}

type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, eris.New("csvfile: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "csvfile: create %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) DatasetPath() string {
	return filepath.Join(s.dir, DatasetFile)
}

func (s *Store) MetaPath() string {
	return filepath.Join(s.dir, MetaFile)
}

// LoadObservations reads the dataset. A missing or empty file is an empty
// dataset.
func (s *Store) LoadObservations(ctx context.Context) ([]model.Observation, error) {
	_ = ctx
	data, err := os.ReadFile(s.DatasetPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csvfile: read dataset")
	}
	return decodeRows(data)
}

func decodeRows(data []byte) ([]model.Observation, error) {
	decoder, err := csvutil.NewDecoder(csv.NewReader(bytes.NewReader(data)))
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csvfile: read header")
	}

	var records []csvRow
	if err := decoder.Decode(&records); err != nil && !errors.Is(err, io.EOF) {
		return nil, eris.Wrap(err, "csvfile: decode dataset")
	}

	rows := make([]model.Observation, 0, len(records))
	for i, record := range records {
		date, err := time.Parse(model.DateLayout, strings.TrimSpace(record.Date))
		if err != nil {
			return nil, eris.Wrapf(err, "csvfile: record %d: date", i+1)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record.Value), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "csvfile: record %d: value", i+1)
		}
		rows = append(rows, model.Observation{
			SeriesID: strings.TrimSpace(record.SeriesID),
			Date:     date.UTC(),
			Value:    value,
		})
	}
	return rows, nil
}

// ReplaceObservations stages the dataset and the freshness record as
// temporary files first, then renames the dataset and the freshness record
// into place. A failure before the dataset rename leaves both files
// untouched. A failed freshness rename after the dataset rename is
// reported as *store.StaleFreshnessError.
func (s *Store) ReplaceObservations(ctx context.Context, observations []model.Observation, freshness model.Freshness) error {
	_ = ctx
	encoded, err := encodeRows(observations)
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(metaRecord{
		LastUpdatedUTC: freshness.LastUpdatedUTC.UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "csvfile: encode meta")
	}

	dataset, err := atomicfile.Stage(s.DatasetPath(), encoded)
	if err != nil {
		return eris.Wrap(err, "csvfile: stage dataset")
	}
	metaFile, err := atomicfile.Stage(s.MetaPath(), append(meta, '\n'))
	if err != nil {
		dataset.Discard()
		return eris.Wrap(err, "csvfile: stage meta")
	}

	if err := dataset.Commit(); err != nil {
		metaFile.Discard()
		return eris.Wrap(err, "csvfile: write dataset")
	}
	if err := metaFile.Commit(); err != nil {
		return &store.StaleFreshnessError{Err: err}
	}
	return nil
}

func encodeRows(observations []model.Observation) ([]byte, error) {
	records := make([]csvRow, 0, len(observations))
	for _, observation := range observations {
		records = append(records, csvRow{
			SeriesID: observation.SeriesID,
			Date:     observation.Date.UTC().Format(model.DateLayout),
			Value:    strconv.FormatFloat(observation.Value, 'f', -1, 64),
		})
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	encoder := csvutil.NewEncoder(writer)
	if len(records) == 0 {
		if err := encoder.EncodeHeader(csvRow{}); err != nil {
			return nil, eris.Wrap(err, "csvfile: encode header")
		}
	} else if err := encoder.Encode(records); err != nil {
		return nil, eris.Wrap(err, "csvfile: encode dataset")
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, eris.Wrap(err, "csvfile: flush dataset")
	}
	return buf.Bytes(), nil
}

// LoadFreshness returns the zero Freshness when no cycle has completed yet.
func (s *Store) LoadFreshness(ctx context.Context) (model.Freshness, error) {
	_ = ctx
	data, err := os.ReadFile(s.MetaPath())
	if errors.Is(err, fs.ErrNotExist) {
		return model.Freshness{}, nil
	}
	if err != nil {
		return model.Freshness{}, eris.Wrap(err, "csvfile: read meta")
	}

	var record metaRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.Freshness{}, eris.Wrap(err, "csvfile: decode meta")
	}
	if record.LastUpdatedUTC == "" {
		return model.Freshness{}, nil
	}
	updated, err := time.Parse(time.RFC3339, record.LastUpdatedUTC)
	if err != nil {
		return model.Freshness{}, eris.Wrap(err, "csvfile: parse last_updated_utc")
	}
	return model.Freshness{LastUpdatedUTC: updated.UTC()}, nil
}

func (s *Store) Close() error {
	return nil
}

var _ store.Store = (*Store)(nil)
