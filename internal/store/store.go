package store

import (
	"context"

	"labordash/internal/model"
)

// Store persists the full observation dataset together with its freshness
// metadata. ReplaceObservations swaps the whole dataset; readers never see
// a partial write.
type Store interface {
	LoadObservations(ctx context.Context) ([]model.Observation, error)
	ReplaceObservations(ctx context.Context, observations []model.Observation, freshness model.Freshness) error
	LoadFreshness(ctx context.Context) (model.Freshness, error)
	Close() error
}

// StaleFreshnessError is returned by ReplaceObservations when the new
// dataset is in place but its freshness record could not be replaced.
// The dataset write itself succeeded.
type StaleFreshnessError struct {
	Err error
}

func (e *StaleFreshnessError) Error() string {
	return "store: dataset replaced, freshness not updated: " + e.Err.Error()
}

func (e *StaleFreshnessError) Unwrap() error {
	return e.Err
}

type NopStore struct{}

func (s *NopStore) LoadObservations(ctx context.Context) ([]model.Observation, error) {
	_ = ctx
	return nil, nil
}

func (s *NopStore) ReplaceObservations(ctx context.Context, observations []model.Observation, freshness model.Freshness) error {
	_ = ctx
	_ = observations
	_ = freshness
	return nil
}

func (s *NopStore) LoadFreshness(ctx context.Context) (model.Freshness, error) {
	_ = ctx
	return model.Freshness{}, nil
}

func (s *NopStore) Close() error {
	return nil
}

var _ Store = (*NopStore)(nil)
