package bls

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"labordash/internal/model"
	"labordash/internal/providers"
)

const (
	defaultBaseURL         = "https://api.bls.gov/publicAPI/v2/timeseries/data/"
	defaultTimeoutSeconds  = 60
	defaultUserAgent       = "labordash/0.1"
	defaultRateLimitPerSec = 1
	defaultRateLimitBurst  = 1

	statusSucceeded = "REQUEST_SUCCEEDED"

	transportExcerptLimit = 200
	businessExcerptLimit  = 300
)

// ErrRequestFailed matches every TransportError and BusinessError. The same
// errors also match providers.ErrTransport or providers.ErrRejected.
var (
	ErrRequestFailed = errors.New("bls: request failed")
	ErrNoSeries      = errors.New("bls: at least one series id is required")
	ErrInvalidRange  = errors.New("bls: end year before start year")
)

type Config struct {
	BaseURL         string        `envconfig:"BASE_URL"`
	APIKey          string        `envconfig:"API_KEY"`
	TimeoutSeconds  int           `envconfig:"TIMEOUT_SECONDS"`
	UserAgent       string        `envconfig:"USER_AGENT"`
	RateLimitPerSec float64       `envconfig:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST"`
	Timeout         time.Duration `ignored:"true"`
}

type Provider struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

func New() (*Provider, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = defaultRateLimitPerSec
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
	}, nil
}

// ConfigFromEnv reads BLS_* variables. Missing values are filled in by
// NewWithConfig.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("bls", &cfg); err != nil {
		return Config{}, eris.Wrap(err, "bls: load config")
	}
	return cfg, nil
}

func (p *Provider) Name() string {
	return "bls"
}

// Authenticated reports whether requests carry a registration key.
func (p *Provider) Authenticated() bool {
	return p.config.APIKey != ""
}

type requestBody struct {
	SeriesID        []string `json:"seriesid"`
	StartYear       string   `json:"startyear"`
	EndYear         string   `json:"endyear"`
	RegistrationKey string   `json:"registrationkey,omitempty"`
}

// FetchSeries performs exactly one request for all series over
// [startYear, endYear]. Failures are *TransportError or *BusinessError,
// both matching ErrRequestFailed.
func (p *Provider) FetchSeries(ctx context.Context, seriesIDs []string, startYear, endYear int) (model.Payload, error) {
	ids := cleanIDs(seriesIDs)
	if len(ids) == 0 {
		return model.Payload{}, ErrNoSeries
	}
	if endYear < startYear {
		return model.Payload{}, eris.Wrapf(ErrInvalidRange, "bls: %d..%d", startYear, endYear)
	}

	payload := requestBody{
		SeriesID:        ids,
		StartYear:       strconv.Itoa(startYear),
		EndYear:         strconv.Itoa(endYear),
		RegistrationKey: p.config.APIKey,
	}

	body, err := p.doRequest(ctx, payload)
	if err != nil {
		return model.Payload{}, err
	}

	switch resp := parseResponse(body).(type) {
	case successResponse:
		return resp.payload, nil
	case failureResponse:
		return model.Payload{}, resp.err
	default:
		return model.Payload{}, &BusinessError{Excerpt: excerpt(string(body), businessExcerptLimit)}
	}
}

func (p *Provider) doRequest(ctx context.Context, payload requestBody) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Excerpt:    excerpt(strings.TrimSpace(string(body)), transportExcerptLimit),
		}
	}
	return body, nil
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

var _ providers.Provider = (*Provider)(nil)
