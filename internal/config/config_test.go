// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Session.MaxBrowsers)
	assert.Equal(t, 20, cfg.Session.MaxPagesPerBrowser)
	assert.Equal(t, 64, cfg.Session.MaxPagesTotal)
	assert.Equal(t, 300*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 300*time.Second, cfg.Session.CleanupInterval)
	assert.Equal(t, 30*time.Second, cfg.CDP.DefaultCommandTimeout)
	assert.Equal(t, 256, cfg.Events.BufferSize)
	assert.True(t, cfg.Stealth.Enabled)
	assert.Equal(t, 80*time.Millisecond, cfg.Humanoid.KeyDelayMean)
	assert.Equal(t, "chaserd", cfg.Logger.ServiceName)
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("session.max_browsers", 3)
	v.Set("session.timeout", "90s")
	v.Set("events.buffer_size", 32)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Session.MaxBrowsers)
	assert.Equal(t, 90*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 32, cfg.Events.BufferSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero_browsers", mutate: func(c *Config) { c.Session.MaxBrowsers = 0 }},
		{name: "zero_pages", mutate: func(c *Config) { c.Session.MaxPagesPerBrowser = 0 }},
		{name: "total_below_per_browser", mutate: func(c *Config) { c.Session.MaxPagesTotal = 1 }},
		{name: "zero_timeout", mutate: func(c *Config) { c.Session.Timeout = 0 }},
		{name: "zero_cleanup", mutate: func(c *Config) { c.Session.CleanupInterval = 0 }},
		{name: "zero_command_timeout", mutate: func(c *Config) { c.CDP.DefaultCommandTimeout = 0 }},
		{name: "zero_buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
