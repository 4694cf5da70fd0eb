// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire daemon configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	CDP      CDPConfig      `mapstructure:"cdp" yaml:"cdp"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Stealth  StealthConfig  `mapstructure:"stealth" yaml:"stealth"`
	Humanoid HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// ServerConfig describes the listen address the RPC layer binds to. The
// core itself never opens the listener; the value is carried here so one
// config file configures the whole process.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SessionConfig bounds the live session population and drives reclamation.
type SessionConfig struct {
	MaxBrowsers        int           `mapstructure:"max_browsers" yaml:"max_browsers"`
	MaxPagesPerBrowser int           `mapstructure:"max_pages_per_browser" yaml:"max_pages_per_browser"`
	MaxPagesTotal      int           `mapstructure:"max_pages_total" yaml:"max_pages_total"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// CDPConfig tunes the DevTools transport.
type CDPConfig struct {
	DefaultCommandTimeout time.Duration `mapstructure:"default_command_timeout" yaml:"default_command_timeout"`
}

// EventsConfig tunes the event dispatcher.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// BrowserConfig holds settings for launched Chromium instances.
type BrowserConfig struct {
	ChromePath      string   `mapstructure:"chrome_path" yaml:"chrome_path"`
	DataDir         string   `mapstructure:"data_dir" yaml:"data_dir"`
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	DebugPortBase   int      `mapstructure:"debug_port_base" yaml:"debug_port_base"`
}

// StealthConfig controls default profile application.
type StealthConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	DefaultPreset string `mapstructure:"default_preset" yaml:"default_preset"`
}

// HumanoidConfig tunes the behavior synthesizer defaults.
type HumanoidConfig struct {
	KeyDelayMean  time.Duration `mapstructure:"key_delay_mean" yaml:"key_delay_mean"`
	CursorSamples time.Duration `mapstructure:"cursor_samples" yaml:"cursor_samples"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 50051)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chaserd")
	v.SetDefault("logger.log_file", "chaser.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Session --
	v.SetDefault("session.max_browsers", 10)
	v.SetDefault("session.max_pages_per_browser", 20)
	v.SetDefault("session.max_pages_total", 64)
	v.SetDefault("session.timeout", "300s")
	v.SetDefault("session.cleanup_interval", "300s")

	// -- CDP --
	v.SetDefault("cdp.default_command_timeout", "30s")

	// -- Events --
	v.SetDefault("events.buffer_size", 256)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug_port_base", 9222)

	// -- Stealth --
	v.SetDefault("stealth.enabled", true)
	v.SetDefault("stealth.default_preset", "windows")

	// -- Humanoid --
	v.SetDefault("humanoid.key_delay_mean", "80ms")
	v.SetDefault("humanoid.cursor_samples", "16ms")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Session.MaxBrowsers <= 0 {
		return fmt.Errorf("session.max_browsers must be a positive integer")
	}
	if c.Session.MaxPagesPerBrowser <= 0 {
		return fmt.Errorf("session.max_pages_per_browser must be a positive integer")
	}
	if c.Session.MaxPagesTotal < c.Session.MaxPagesPerBrowser {
		return fmt.Errorf("session.max_pages_total must be at least session.max_pages_per_browser")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be a positive duration")
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be a positive duration")
	}
	if c.CDP.DefaultCommandTimeout <= 0 {
		return fmt.Errorf("cdp.default_command_timeout must be a positive duration")
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be a positive integer")
	}
	return nil
}
