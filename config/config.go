// Package config loads the sync daemon configuration from a YAML or JSON
// file overlaid by MXSYNC_ environment variables, and builds the engine,
// transport and cursor store it describes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-matrix-sync/logging"
	"github.com/c0deZ3R0/go-matrix-sync/synckit"
	"github.com/c0deZ3R0/go-matrix-sync/synckit/types"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MXSYNC_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the complete daemon configuration.
type Config struct {
	Homeserver HomeserverConfig `json:"homeserver" yaml:"homeserver" envPrefix:"HOMESERVER_"`
	Sync       SyncConfig       `json:"sync" yaml:"sync" envPrefix:"SYNC_"`
	Store      StoreConfig      `json:"store" yaml:"store" envPrefix:"STORE_"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	Logging    logging.Config   `json:"logging" yaml:"logging"`
}

// HomeserverConfig describes the server and the HTTP client.
type HomeserverConfig struct {
	URL                         string `json:"url" yaml:"url" env:"URL"`
	AccessToken                 string `json:"access_token" yaml:"access_token" env:"ACCESS_TOKEN"`
	UserAgent                   string `json:"user_agent,omitempty" yaml:"user_agent,omitempty" env:"USER_AGENT"`
	Compression                 bool   `json:"compression" yaml:"compression" env:"COMPRESSION"`
	MaxResponseSize             int64  `json:"max_response_size,omitempty" yaml:"max_response_size,omitempty" env:"MAX_RESPONSE_SIZE"`
	MaxDecompressedResponseSize int64  `json:"max_decompressed_response_size,omitempty" yaml:"max_decompressed_response_size,omitempty" env:"MAX_DECOMPRESSED_RESPONSE_SIZE"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	Timeout                Duration      `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
	RequestGrace           Duration      `json:"request_grace" yaml:"request_grace" env:"REQUEST_GRACE"`
	Presence               string        `json:"presence,omitempty" yaml:"presence,omitempty" env:"PRESENCE"`
	Filter                 string        `json:"filter,omitempty" yaml:"filter,omitempty" env:"FILTER"`
	OnceFilter             string        `json:"once_filter,omitempty" yaml:"once_filter,omitempty" env:"ONCE_FILTER"`
	FullStateOnInitialSync bool          `json:"full_state_on_initial_sync" yaml:"full_state_on_initial_sync" env:"FULL_STATE_ON_INITIAL_SYNC"`
	Namespace              string        `json:"namespace,omitempty" yaml:"namespace,omitempty" env:"NAMESPACE"`
	HandlerTimeout         Duration      `json:"handler_timeout" yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
	Backoff                BackoffConfig `json:"backoff" yaml:"backoff" envPrefix:"BACKOFF_"`
}

// BackoffConfig describes the retry policy of the loop.
type BackoffConfig struct {
	Initial    Duration `json:"initial" yaml:"initial" env:"INITIAL"`
	Max        Duration `json:"max" yaml:"max" env:"MAX"`
	Multiplier float64  `json:"multiplier" yaml:"multiplier" env:"MULTIPLIER"`
	Jitter     float64  `json:"jitter" yaml:"jitter" env:"JITTER"`
}

// StoreConfig selects the cursor store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty" env:"DSN"`
	Table  string `json:"table,omitempty" yaml:"table,omitempty" env:"TABLE"`
}

// MetricsConfig toggles the OpenTelemetry collector.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	MeterName string `json:"meter_name,omitempty" yaml:"meter_name,omitempty" env:"METER_NAME"`
}

// Duration is a time.Duration that reads "30s" style strings from YAML,
// JSON and the environment.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText implements encoding.TextUnmarshaler; it is used by the
// YAML, JSON and env decoders alike.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML accepts duration strings.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Homeserver: HomeserverConfig{Compression: true},
		Sync: SyncConfig{
			Timeout:        Duration(synckit.DefaultTimeout),
			RequestGrace:   Duration(synckit.DefaultRequestGrace),
			HandlerTimeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				Initial:    Duration(synckit.DefaultInitialDelay),
				Max:        Duration(synckit.DefaultMaxDelay),
				Multiplier: synckit.DefaultMultiplier,
				Jitter:     synckit.DefaultJitter,
			},
		},
		Store:   StoreConfig{Driver: DriverMemory},
		Logging: logging.DefaultConfig,
	}
}

// Load reads path (when not empty), applies MXSYNC_ environment variables
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges a YAML or JSON file into c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.LoadFromBytes(data, detectFormat(path))
}

// LoadFromBytes merges raw configuration data into c.
func (c *Config) LoadFromBytes(data []byte, format string) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
	return nil
}

// ApplyEnv overrides fields from MXSYNC_ environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(nil)
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	return nil
}

// detectFormat infers the format from the file extension.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	if c.Homeserver.URL == "" {
		errs = append(errs, errors.New("homeserver.url is required"))
	} else if u, err := url.Parse(c.Homeserver.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver.url must be an absolute http(s) URL, got %q", c.Homeserver.URL))
	}
	if c.Homeserver.MaxResponseSize < 0 || c.Homeserver.MaxDecompressedResponseSize < 0 {
		errs = append(errs, errors.New("homeserver response size limits must not be negative"))
	}

	if c.Sync.Timeout < 0 {
		errs = append(errs, errors.New("sync.timeout must not be negative"))
	}
	if c.Sync.RequestGrace <= 0 {
		errs = append(errs, errors.New("sync.request_grace must be positive"))
	}
	if c.Sync.HandlerTimeout < 0 {
		errs = append(errs, errors.New("sync.handler_timeout must not be negative"))
	}
	if !types.Presence(c.Sync.Presence).Valid() {
		errs = append(errs, fmt.Errorf("sync.presence must be one of online, offline, unavailable, got %q", c.Sync.Presence))
	}
	b := c.Sync.Backoff
	if b.Initial < 0 || b.Max < 0 {
		errs = append(errs, errors.New("sync.backoff delays must not be negative"))
	}
	if b.Max > 0 && b.Initial > b.Max {
		errs = append(errs, errors.New("sync.backoff.initial must not exceed sync.backoff.max"))
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("sync.backoff.multiplier must be at least 1, got %v", b.Multiplier))
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		errs = append(errs, fmt.Errorf("sync.backoff.jitter must be in [0, 1), got %v", b.Jitter))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of memory, sqlite, postgres, got %q", c.Store.Driver))
	}

	return errors.Join(errs...)
}
