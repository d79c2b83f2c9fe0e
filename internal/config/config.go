// Package config loads runtime settings from BINDERY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const Prefix = "BINDERY_"

type Cache struct {
	MaxSize       int           `env:"MAX_SIZE" envDefault:"1000"`
	DefaultTTL    time.Duration `env:"DEFAULT_TTL" envDefault:"5m"`
	EnableStats   bool          `env:"ENABLE_STATS" envDefault:"true"`
	EnableWarming bool          `env:"ENABLE_WARMING" envDefault:"true"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

type Loader struct {
	// BaseURL is the federation remote-entry address (host:port).
	BaseURL            string        `env:"BASE_URL"`
	MaxConcurrentLoads int           `env:"MAX_CONCURRENT_LOADS" envDefault:"4"`
	LoadTimeout        time.Duration `env:"LOAD_TIMEOUT" envDefault:"30s"`
	EnableCaching      bool          `env:"ENABLE_CACHING" envDefault:"true"`
	FederationScope    string        `env:"FEDERATION_SCOPE" envDefault:"default"`
	PreloadWorkers     int           `env:"PRELOAD_WORKERS" envDefault:"2"`
}

type Config struct {
	Cache  Cache  `envPrefix:"CACHE_"`
	Loader Loader `envPrefix:"LOADER_"`

	BootstrapConcurrency int `env:"BOOTSTRAP_CONCURRENCY" envDefault:"4"`

	// NATSURL enables publishing lifecycle events when set.
	NATSURL       string        `env:"NATS_URL"`
	NATSSubject   string        `env:"NATS_SUBJECT" envDefault:"bindery.runtime.module"`
	OTelEndpoint  string        `env:"OTEL_ENDPOINT"`
	ProfilePath   string        `env:"PROFILE_PATH"`
	ManifestDir   string        `env:"MANIFEST_DIR"`
	ServiceName   string        `env:"SERVICE_NAME" envDefault:"bindery-runtime"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot operate with.
func (c Config) Validate() error {
	var errs []error
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("%sCACHE_MAX_SIZE must be positive", Prefix))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("%sCACHE_DEFAULT_TTL must be positive", Prefix))
	}
	if c.Cache.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%sCACHE_SWEEP_INTERVAL must be positive", Prefix))
	}
	if c.Loader.MaxConcurrentLoads <= 0 {
		errs = append(errs, fmt.Errorf("%sLOADER_MAX_CONCURRENT_LOADS must be positive", Prefix))
	}
	if c.Loader.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%sLOADER_LOAD_TIMEOUT must be positive", Prefix))
	}
	if c.Loader.PreloadWorkers <= 0 {
		errs = append(errs, fmt.Errorf("%sLOADER_PRELOAD_WORKERS must be positive", Prefix))
	}
	if c.BootstrapConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("%sBOOTSTRAP_CONCURRENCY must be positive", Prefix))
	}
	return errors.Join(errs...)
}
