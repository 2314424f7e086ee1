// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Queue       QueueConfig       `yaml:"queue"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Remote      RemoteConfig      `yaml:"remote"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Library     LibraryConfig     `yaml:"library"`
	Audio       AudioConfig       `yaml:"audio"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Addr            string      `yaml:"addr" default:":8080"`
	ControlToken    string      `yaml:"control_token"` // Guards mutating procedures; empty leaves them open
	ShutdownTimeout int         `yaml:"shutdown_timeout_sec" default:"5" validate:"min=1,max=60"`
	Hooks           HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// QueueConfig represents queue and advance configuration.
type QueueConfig struct {
	StorageKey        string `yaml:"storage_key" default:"bedtime-queue-v1" validate:"required"`
	SeedCount         int    `yaml:"seed_count" default:"10" validate:"min=1,max=1000"`
	Shuffle           bool   `yaml:"shuffle"`
	RepeatAll         bool   `yaml:"repeat_all"`
	LibraryRefreshSec int    `yaml:"library_refresh_sec" validate:"gte=0"`
}

// PlaybackConfig represents local playback configuration.
type PlaybackConfig struct {
	Volume         float64 `yaml:"volume" default:"1" validate:"gte=0,lte=1"`
	Rate           float64 `yaml:"rate" default:"1" validate:"gte=0.5,lte=2"`
	LoadTimeoutSec int     `yaml:"load_timeout_sec" default:"30" validate:"gte=0"`
}

// RemoteConfig represents remote device configuration.
type RemoteConfig struct {
	DeviceURL      string `yaml:"device_url" validate:"required"`
	PollIntervalMS int    `yaml:"poll_interval_ms" default:"3000" validate:"min=250"`
	TimeoutSec     int    `yaml:"timeout_sec" default:"5" validate:"min=1,max=60"`
	Visible        *bool  `yaml:"visible" default:"true"`
}

// PersistenceConfig represents the queue order store.
type PersistenceConfig struct {
	Type     string         `yaml:"type" default:"sqlite" validate:"oneof=sqlite file memory"`
	Settings map[string]any `yaml:"settings"`
}

// LibraryConfig represents the story library backend.
type LibraryConfig struct {
	Type     string         `yaml:"type" default:"file" validate:"oneof=file http"`
	Settings map[string]any `yaml:"settings"`
}

// AudioConfig represents audio output and fetching.
type AudioConfig struct {
	Sink         string         `yaml:"sink" default:"oto" validate:"oneof=oto clock"`
	SinkSettings map[string]any `yaml:"sink_settings"`
	Cache        CacheConfig    `yaml:"cache"`
}

// CacheConfig represents the fetched-audio disk cache.
type CacheConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses YAML configuration, then applies environment overrides,
// defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("STORYBOX_CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
	if v := os.Getenv("STORYBOX_DEVICE_URL"); v != "" {
		c.Remote.DeviceURL = v
	}
	if v := os.Getenv("STORYBOX_LIBRARY_URL"); v != "" && c.Library.Type == "http" {
		if c.Library.Settings == nil {
			c.Library.Settings = map[string]any{}
		}
		c.Library.Settings["url"] = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// PollInterval returns the remote status poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Remote.PollIntervalMS) * time.Millisecond
}

// DeviceTimeout returns the per-request timeout for the remote device.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSec) * time.Second
}

// RemoteVisible reports whether remote polling starts enabled.
func (c *Config) RemoteVisible() bool {
	return c.Remote.Visible == nil || *c.Remote.Visible
}

// LibraryRefresh returns the periodic library reconcile interval, 0 when disabled.
func (c *Config) LibraryRefresh() time.Duration {
	return time.Duration(c.Queue.LibraryRefreshSec) * time.Second
}

// LoadTimeout returns the upper bound for fetching one clip, 0 for none.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Playback.LoadTimeoutSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
