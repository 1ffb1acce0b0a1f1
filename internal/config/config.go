// Package config resolves the application settings shared by the
// collector and publisher commands.
//
// Values come from LABORDASH_* environment variables, optionally seeded
// from a .env file. Command-line flags are applied on top by the
// commands themselves.
package config

import (
	"errors"
	"io/fs"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
)

const envPrefix = "LABORDASH"

type Config struct {
	DataDir        string `envconfig:"DATA_DIR" default:"data" validate:"required"`
	DBPath         string `envconfig:"DB"`
	CatalogPath    string `envconfig:"CATALOG"`
	RevisionMonths int    `envconfig:"REVISION_MONTHS" default:"24" validate:"gte=0,lte=600"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat      string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDotEnv loads the given .env files (".env" when none are named) into
// the process environment. Variables already set win; missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "config: load %s", path)
		}
	}
	return nil
}

// FromEnv reads LABORDASH_* variables, applying defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, eris.Wrap(err, "config: read environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: invalid")
	}
	return nil
}
