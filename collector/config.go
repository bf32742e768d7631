package collector

import (
	"time"

	"github.com/mstoykov/envconfig"
	null "gopkg.in/guregu/null.v3"
)

// Config holds the collector server's configuration, loaded from the
// environment the same way tracer.Config loads the producer's — envconfig
// tags over null-aware types so "unset" and "set to zero value" stay
// distinguishable, mirroring `cloudapi/config.go`'s shape.
type Config struct {
	ListenAddress null.String `json:"listenAddress" envconfig:"COLLECTOR_LISTEN_ADDRESS"`
	DatabaseURL   null.String `json:"databaseURL" envconfig:"COLLECTOR_DATABASE_URL"`
	Environment   null.String `json:"environment" envconfig:"COLLECTOR_ENVIRONMENT"`

	AlertInterval     time.Duration `json:"alertInterval" envconfig:"COLLECTOR_ALERT_INTERVAL"`
	JanitorInterval   time.Duration `json:"janitorInterval" envconfig:"COLLECTOR_JANITOR_INTERVAL"`
	RetentionPeriod   time.Duration `json:"retentionPeriod" envconfig:"COLLECTOR_RETENTION_PERIOD"`
}

// NewConfig returns a Config with production defaults, before any
// environment overrides are applied.
func NewConfig() Config {
	return Config{
		ListenAddress:   null.NewString(":4200", false),
		DatabaseURL:     null.NewString("postgres://localhost:5432/tracer", false),
		Environment:     null.NewString("production", false),
		AlertInterval:   AlertEvaluatorInterval,
		JanitorInterval: JanitorInterval,
		RetentionPeriod: RetentionPeriod,
	}
}

// Apply overlays non-zero fields from cfg onto the receiver, mirroring
// cloudapi.Config.Apply's "explicit value wins" merge semantics.
func (c Config) Apply(cfg Config) Config {
	if cfg.ListenAddress.Valid && cfg.ListenAddress.String != "" {
		c.ListenAddress = cfg.ListenAddress
	}
	if cfg.DatabaseURL.Valid && cfg.DatabaseURL.String != "" {
		c.DatabaseURL = cfg.DatabaseURL
	}
	if cfg.Environment.Valid && cfg.Environment.String != "" {
		c.Environment = cfg.Environment
	}
	if cfg.AlertInterval != 0 {
		c.AlertInterval = cfg.AlertInterval
	}
	if cfg.JanitorInterval != 0 {
		c.JanitorInterval = cfg.JanitorInterval
	}
	if cfg.RetentionPeriod != 0 {
		c.RetentionPeriod = cfg.RetentionPeriod
	}
	return c
}

// LoadConfigFromEnv reads COLLECTOR_* environment variables on top of
// NewConfig's defaults, using env as the lookup table (os.Environ
// converted to a map, in production).
func LoadConfigFromEnv(env map[string]string) (Config, error) {
	cfg := NewConfig()
	if err := envconfig.Process("", &cfg, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
