package tracer

import (
	"time"

	"github.com/mstoykov/envconfig"
	null "gopkg.in/guregu/null.v3"
)

// Config holds a producer's configuration, loaded from the environment
// the way cloudapi/config.go loads k6 Cloud's — envconfig tags over
// null-aware types so "unset" and "set to zero value" stay distinguishable.
type Config struct {
	ServiceName  null.String `json:"serviceName" envconfig:"TRACER_SERVICE_NAME"`
	Env          null.String `json:"env" envconfig:"TRACER_ENV"`
	CollectorURL null.String `json:"collectorURL" envconfig:"TRACER_COLLECTOR_URL"`
	Token        null.String `json:"token" envconfig:"TRACER_TOKEN"`

	ExportTimeout       time.Duration `json:"exportTimeout" envconfig:"TRACER_EXPORT_TIMEOUT"`
	ControlChannelRetry time.Duration `json:"controlChannelRetry" envconfig:"TRACER_CONTROL_CHANNEL_RETRY"`
}

// NewConfig returns a Config with the same defaults the original
// producer library ships with, before any environment overrides are
// applied.
func NewConfig() Config {
	return Config{
		CollectorURL:        null.NewString("http://localhost:4200", false),
		ExportTimeout:       5 * time.Second,
		ControlChannelRetry: ControlChannelRetryInterval,
	}
}

// Apply overlays non-zero fields from cfg onto the receiver, mirroring
// cloudapi.Config.Apply's "explicit value wins" merge semantics.
func (c Config) Apply(cfg Config) Config {
	if cfg.ServiceName.Valid {
		c.ServiceName = cfg.ServiceName
	}
	if cfg.Env.Valid {
		c.Env = cfg.Env
	}
	if cfg.CollectorURL.Valid && cfg.CollectorURL.String != "" {
		c.CollectorURL = cfg.CollectorURL
	}
	if cfg.Token.Valid {
		c.Token = cfg.Token
	}
	if cfg.ExportTimeout != 0 {
		c.ExportTimeout = cfg.ExportTimeout
	}
	if cfg.ControlChannelRetry != 0 {
		c.ControlChannelRetry = cfg.ControlChannelRetry
	}
	return c
}

// LoadConfigFromEnv reads TRACER_* environment variables on top of
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
