// Package config provides configuration management for livedoc using Viper
// for flexible loading from files, environment variables, and command-line
// flags.
//
// The configuration system supports YAML files, environment variable
// overrides with the LIVEDOC_ prefix, and validation. It manages the HTTP
// binding, the content roots documents may be opened from, the timing
// constants shared with every connected client, and logging.
//
// A Config is immutable once Load returns; services receive it by pointer
// and must never write to it.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvironmentProduction disables the live editing subsystem entirely.
const EnvironmentProduction = "production"

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Content ContentConfig `mapstructure:"content" yaml:"content"`
	Timing  TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Environment    string   `mapstructure:"environment" yaml:"environment"`
}

type ContentConfig struct {
	Roots       []string `mapstructure:"roots" yaml:"roots"`
	Extensions  []string `mapstructure:"extensions" yaml:"extensions"`
	DefaultKind string   `mapstructure:"default_kind" yaml:"default_kind"`
}

// TimingConfig holds every timing constant of the live subsystem. The same
// values are pushed to clients so both sides agree on heartbeat cadence.
type TimingConfig struct {
	PingInterval      time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold" yaml:"stale_threshold"`
	CursorThrottle    time.Duration `mapstructure:"cursor_throttle" yaml:"cursor_throttle"`
	ContentDebounce   time.Duration `mapstructure:"content_debounce" yaml:"content_debounce"`
	RenderInterval    time.Duration `mapstructure:"render_interval" yaml:"render_interval"`
	AutosaveInterval  time.Duration `mapstructure:"autosave_interval" yaml:"autosave_interval"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ClientTiming is the wire form of TimingConfig, in milliseconds.
type ClientTiming struct {
	PingIntervalMs      int64 `json:"pingIntervalMs"`
	StaleThresholdMs    int64 `json:"staleThresholdMs"`
	CursorThrottleMs    int64 `json:"cursorThrottleMs"`
	ContentDebounceMs   int64 `json:"contentDebounceMs"`
	RenderIntervalMs    int64 `json:"renderIntervalMs"`
	KeepaliveIntervalMs int64 `json:"keepaliveIntervalMs"`
	ReconnectDelayMs    int64 `json:"reconnectDelayMs"`
}

// Client returns the timing constants in the form sent to browsers.
func (t TimingConfig) Client() ClientTiming {
	return ClientTiming{
		PingIntervalMs:      t.PingInterval.Milliseconds(),
		StaleThresholdMs:    t.StaleThreshold.Milliseconds(),
		CursorThrottleMs:    t.CursorThrottle.Milliseconds(),
		ContentDebounceMs:   t.ContentDebounce.Milliseconds(),
		RenderIntervalMs:    t.RenderInterval.Milliseconds(),
		KeepaliveIntervalMs: t.KeepaliveInterval.Milliseconds(),
		ReconnectDelayMs:    t.ReconnectDelay.Milliseconds(),
	}
}

// CleanupInterval is how often the presence staleness sweep runs.
func (t TimingConfig) CleanupInterval() time.Duration {
	interval := t.StaleThreshold / 3
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// IsProduction reports whether the server runs in a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, EnvironmentProduction)
}

// DefaultTiming returns the default timing constants.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		PingInterval:      5 * time.Second,
		StaleThreshold:    30 * time.Second,
		CursorThrottle:    50 * time.Millisecond,
		ContentDebounce:   300 * time.Millisecond,
		RenderInterval:    time.Second,
		AutosaveInterval:  10 * time.Second,
		KeepaliveInterval: 15 * time.Second,
		ReconnectDelay:    2 * time.Second,
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle slices set via viper (workaround for viper slice handling from env)
	if viper.IsSet("content.roots") && len(config.Content.Roots) == 0 {
		config.Content.Roots = viper.GetStringSlice("content.roots")
	}
	if viper.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = viper.GetStringSlice("server.allowed_origins")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 && !viper.IsSet("server.port") {
		config.Server.Port = 3300
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}

	if len(config.Content.Roots) == 0 {
		config.Content.Roots = []string{"./docs"}
	}
	if len(config.Content.Extensions) == 0 {
		config.Content.Extensions = []string{".md", ".mdx"}
	}
	if config.Content.DefaultKind == "" {
		config.Content.DefaultKind = "doc"
	}

	defaults := DefaultTiming()
	t := &config.Timing
	if t.PingInterval == 0 {
		t.PingInterval = defaults.PingInterval
	}
	if t.StaleThreshold == 0 {
		t.StaleThreshold = defaults.StaleThreshold
	}
	if t.CursorThrottle == 0 {
		t.CursorThrottle = defaults.CursorThrottle
	}
	if t.ContentDebounce == 0 {
		t.ContentDebounce = defaults.ContentDebounce
	}
	if t.RenderInterval == 0 {
		t.RenderInterval = defaults.RenderInterval
	}
	if t.AutosaveInterval == 0 {
		t.AutosaveInterval = defaults.AutosaveInterval
	}
	if t.KeepaliveInterval == 0 {
		t.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if t.ReconnectDelay == 0 {
		t.ReconnectDelay = defaults.ReconnectDelay
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}
