// Package config defines all configuration for bookhub. Config is loaded
// from a YAML file (default: configs/config.yaml) with sensitive fields
// overridable via BOOKHUB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"bookhub/pkg/booktypes"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Hub       HubConfig                `mapstructure:"hub"`
	Exchanges map[string]ExchangeEntry `mapstructure:"exchanges"`
	Snapshot  SnapshotConfig           `mapstructure:"snapshot"`
	Auth      AuthConfig               `mapstructure:"auth"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Observe   ObserveConfig            `mapstructure:"observe"`
}

// HubConfig points at the realtime hub and tunes reconnect behavior.
type HubConfig struct {
	URL                 string        `mapstructure:"url"`
	Backoff             string        `mapstructure:"backoff"`
	FixedBackoffDelay   time.Duration `mapstructure:"fixed_backoff_delay"`
	ExponentialBase     time.Duration `mapstructure:"exponential_base"`
	ExponentialMax      time.Duration `mapstructure:"exponential_max"`
	HealthThreshold     int           `mapstructure:"health_threshold"`
	HealthWindow        time.Duration `mapstructure:"health_window"`
	DelayBetweenInvokes time.Duration `mapstructure:"delay_between_invokes"`
}

// ExchangeEntry is one exchange's dialect, book-depth hint, and the
// symbols to track on it. Dialect/MaxCount feed internal/dispatch.Directory;
// Symbols and FunctionName drive which hub subscriptions cmd/bookhub opens.
type ExchangeEntry struct {
	Dialect      string   `mapstructure:"dialect"`
	MaxCount     int      `mapstructure:"max_count"`
	Symbols      []string `mapstructure:"symbols"`
	FunctionName string   `mapstructure:"function_name"`
}

// ParseDialect maps the config's string dialect name to the typed
// booktypes.Dialect the Reconciler expects.
func (e ExchangeEntry) ParseDialect() (booktypes.Dialect, error) {
	switch strings.ToLower(e.Dialect) {
	case "delta_only":
		return booktypes.DeltaOnly, nil
	case "snapshot_then_delta":
		return booktypes.SnapshotThenDelta, nil
	case "full_each_time":
		return booktypes.FullEachTime, nil
	default:
		return 0, fmt.Errorf("config: unknown dialect %q", e.Dialect)
	}
}

// SnapshotConfig configures the REST snapshot collaborator used by the
// DeltaOnly dialect.
type SnapshotConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	RateLimitCapacity float64 `mapstructure:"rate_limit_capacity"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec"`
}

// AuthConfig holds the hub authentication credentials. Secret should
// almost always come from BOOKHUB_API_SECRET rather than the YAML file.
type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// LoggingConfig tunes the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObserveConfig controls the optional read-only status server.
type ObserveConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use env vars: BOOKHUB_API_KEY, BOOKHUB_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOOKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("BOOKHUB_API_KEY"); key != "" {
		cfg.Auth.APIKey = key
	}
	if secret := os.Getenv("BOOKHUB_API_SECRET"); secret != "" {
		cfg.Auth.APISecret = secret
	}
	if url := os.Getenv("BOOKHUB_HUB_URL"); url != "" {
		cfg.Hub.URL = url
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Hub.FixedBackoffDelay == 0 {
		c.Hub.FixedBackoffDelay = 5 * time.Second
	}
	if c.Hub.ExponentialBase == 0 {
		c.Hub.ExponentialBase = time.Second
	}
	if c.Hub.ExponentialMax == 0 {
		c.Hub.ExponentialMax = 30 * time.Second
	}
	if c.Snapshot.RateLimitCapacity == 0 {
		c.Snapshot.RateLimitCapacity = 150
	}
	if c.Snapshot.RateLimitPerSec == 0 {
		c.Snapshot.RateLimitPerSec = 15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Observe.Addr == "" {
		c.Observe.Addr = ":8090"
	}
	for name, entry := range c.Exchanges {
		if entry.FunctionName == "" {
			entry.FunctionName = "Book"
			c.Exchanges[name] = entry
		}
	}
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}
	if c.Hub.Backoff != "" && c.Hub.Backoff != "fixed" && c.Hub.Backoff != "exponential" {
		return fmt.Errorf("hub.backoff must be one of: fixed, exponential")
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("at least one entry under exchanges is required")
	}
	for name, entry := range c.Exchanges {
		dialect, err := entry.ParseDialect()
		if err != nil {
			return fmt.Errorf("exchanges.%s: %w", name, err)
		}
		if entry.MaxCount <= 0 {
			return fmt.Errorf("exchanges.%s.max_count must be > 0", name)
		}
		if len(entry.Symbols) == 0 {
			return fmt.Errorf("exchanges.%s.symbols must list at least one symbol", name)
		}
		if dialect == booktypes.DeltaOnly && c.Snapshot.BaseURL == "" {
			return fmt.Errorf("exchanges.%s uses delta_only, which requires snapshot.base_url to be set", name)
		}
	}
	if c.Observe.Enabled && c.Observe.Addr == "" {
		return fmt.Errorf("observe.addr is required when observe.enabled is true")
	}
	return nil
}
