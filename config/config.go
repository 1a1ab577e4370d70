// Package config loads application configuration from defaults, an optional
// YAML file, and environment variable overrides, in that priority order.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	// Storage selects and tunes the workspace persistence backend.
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Poll tunes the asynchronous job polling loops.
	Poll PollConfig `yaml:"poll" env:"POLL"`

	// Autosave tunes workspace persistence debouncing.
	Autosave AutosaveConfig `yaml:"autosave" env:"AUTOSAVE"`

	// Providers holds per-provider endpoint overrides.
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Sync configures the cloud snapshot backend.
	Sync SyncConfig `yaml:"sync" env:"SYNC"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// StorageConfig selects the workspace KV backend.
type StorageConfig struct {
	// Backend is one of: file, redis, sqlite.
	Backend string `yaml:"backend" env:"BACKEND"`

	// Dir is the base directory for the file backend.
	Dir string `yaml:"dir" env:"DIR"`

	Redis  RedisConfig  `yaml:"redis" env:"REDIS"`
	SQLite SQLiteConfig `yaml:"sqlite" env:"SQLITE"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// PollConfig tunes asynchronous polling.
type PollConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	Interval     time.Duration `yaml:"interval" env:"INTERVAL"`

	// MaxWait bounds per-job polling; zero polls until a terminal signal.
	MaxWait time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
}

// AutosaveConfig tunes workspace save debouncing.
type AutosaveConfig struct {
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE"`
}

// ProvidersConfig carries per-provider endpoints.
type ProvidersConfig struct {
	AIHorde     AIHordeConfig  `yaml:"aihorde" env:"AIHORDE"`
	DeepInfra   EndpointConfig `yaml:"deepinfra" env:"DEEPINFRA"`
	HuggingFace EndpointConfig `yaml:"huggingface" env:"HUGGINGFACE"`
	Trellis     EndpointConfig `yaml:"trellis" env:"TRELLIS"`
}

// AIHordeConfig configures the AI Horde adapter.
type AIHordeConfig struct {
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	RelayURL string        `yaml:"relay_url" env:"RELAY_URL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EndpointConfig configures a single-endpoint provider.
type EndpointConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// SyncConfig configures the cloud snapshot store.
type SyncConfig struct {
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			Dir:     "data",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "genstudio:",
			},
			SQLite: SQLiteConfig{
				Path: "data/genstudio.db",
			},
		},
		Poll: PollConfig{
			InitialDelay: 5 * time.Second,
			Interval:     2 * time.Second,
		},
		Autosave: AutosaveConfig{
			Debounce: 2 * time.Second,
		},
		Providers: ProvidersConfig{
			AIHorde: AIHordeConfig{
				BaseURL:  "https://aihorde.net/api/v2",
				RelayURL: "https://relay.fyrean.com",
				Timeout:  120 * time.Second,
			},
			DeepInfra: EndpointConfig{
				BaseURL: "https://api.deepinfra.com/v1/inference",
				Timeout: 300 * time.Second,
			},
			HuggingFace: EndpointConfig{
				BaseURL: "https://api-inference.huggingface.co/models",
				Timeout: 300 * time.Second,
			},
			Trellis: EndpointConfig{
				BaseURL: "https://trellis.fyrean.com",
				Timeout: 15 * time.Minute,
			},
		},
		Sync: SyncConfig{
			Collection: "userdata",
			Timeout:    60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "genstudio",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "file", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, "poll interval must be positive")
	}
	if c.Poll.MaxWait < 0 {
		errs = append(errs, "poll max_wait cannot be negative")
	}
	if c.Autosave.Debounce < 0 {
		errs = append(errs, "autosave debounce cannot be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
