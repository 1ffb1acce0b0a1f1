package providers

import (
	"context"
	"errors"

	"labordash/internal/model"
)

// Provider errors match one of these so callers can classify a failed
// fetch without knowing the concrete provider.
var (
	ErrTransport = errors.New("providers: transport failure")
	ErrRejected  = errors.New("providers: request rejected")
)

type Provider interface {
	Name() string
	FetchSeries(ctx context.Context, seriesIDs []string, startYear, endYear int) (model.Payload, error)
}
