package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"labordash/internal/model"
	"labordash/internal/store"
)

const metaLastUpdated = "last_updated_utc"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, eris.New("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ReplaceObservations swaps the mirrored dataset and its freshness record
// inside a single transaction.
func (s *Store) ReplaceObservations(ctx context.Context, observations []model.Observation, freshness model.Freshness) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM observations`); err != nil {
		return eris.Wrap(err, "sqlite: clear observations")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (series_id, date, value)
		VALUES (?, ?, ?)
		ON CONFLICT(series_id, date) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for _, observation := range observations {
		_, err = stmt.ExecContext(
			ctx,
			observation.SeriesID,
			observation.Date.UTC().Format(model.DateLayout),
			observation.Value,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert %s %s", observation.SeriesID, observation.Date.Format(model.DateLayout))
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastUpdated, freshness.LastUpdatedUTC.UTC().Format(time.RFC3339))
	if err != nil {
		return eris.Wrap(err, "sqlite: write meta")
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

func (s *Store) LoadObservations(ctx context.Context) ([]model.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, date, value
		FROM observations
		ORDER BY series_id, date
	`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query observations")
	}
	defer rows.Close()

	var observations []model.Observation
	for rows.Next() {
		var (
			seriesID string
			date     string
			value    float64
		)
		if err := rows.Scan(&seriesID, &date, &value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		parsed, err := time.Parse(model.DateLayout, date)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: bad date %q", date)
		}
		observations = append(observations, model.Observation{SeriesID: seriesID, Date: parsed, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate observations")
	}
	return observations, nil
}

func (s *Store) LoadFreshness(ctx context.Context) (model.Freshness, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM dataset_meta WHERE key = ?`, metaLastUpdated).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Freshness{}, nil
	}
	if err != nil {
		return model.Freshness{}, eris.Wrap(err, "sqlite: query meta")
	}
	updated, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return model.Freshness{}, eris.Wrapf(err, "sqlite: bad %s %q", metaLastUpdated, value)
	}
	return model.Freshness{LastUpdatedUTC: updated.UTC()}, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS observations (
			series_id TEXT NOT NULL,
			date TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (series_id, date)
		);`,
		`CREATE TABLE IF NOT EXISTS dataset_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return eris.Wrap(err, "sqlite: migrate")
		}
	}

	return nil
}

var _ store.Store = (*Store)(nil)
