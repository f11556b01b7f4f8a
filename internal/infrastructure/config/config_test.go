package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 2, cfg.Pool.MaxSessions)
	assert.Equal(t, 1, cfg.Pool.MinIdle)
	assert.Equal(t, 10*time.Second, cfg.Pool.AcquireTimeout)

	assert.True(t, cfg.Browser.Headless)
	assert.Contains(t, cfg.Browser.Args, "--no-sandbox")
	assert.Equal(t, []string{"*"}, cfg.Browser.AllowedHosts)

	assert.Equal(t, 1080, cfg.Render.Width)
	assert.True(t, cfg.Render.FallbackBlank)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.Server, cfg.Server)
	assert.Equal(t, def.Pool, cfg.Pool)
	assert.Equal(t, def.Task.DefaultTimeout, cfg.Task.DefaultTimeout)
	assert.Equal(t, def.Browser.Args, cfg.Browser.Args)
	assert.Equal(t, def.Feed.URL, cfg.Feed.URL)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                  "9000",
		"HOST":                  "127.0.0.1",
		"LOG_LEVEL":             "debug",
		"LOG_DEV":               "true",
		"POOL_MAX_SESSIONS":     "4",
		"POOL_MIN_IDLE":         "2",
		"POOL_ACQUIRE_TIMEOUT":  "3s",
		"TASK_DEFAULT_TIMEOUT":  "5s",
		"BROWSER_ALLOWED_HOSTS": "*.example.com,example.com",
		"RATE_LIMIT_ENABLED":    "false",
		"APP_BASE_URL":          "https://render.example.com",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "https://render.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 4, cfg.Pool.MaxSessions)
	assert.Equal(t, 2, cfg.Pool.MinIdle)
	assert.Equal(t, 3*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 5*time.Second, cfg.Task.DefaultTimeout)
	assert.Equal(t, []string{"*.example.com", "example.com"}, cfg.Browser.AllowedHosts)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "zero ceiling", mutate: func(c *Config) { c.Pool.MaxSessions = 0 }, wantErr: true},
		{name: "min idle above ceiling", mutate: func(c *Config) { c.Pool.MinIdle = 3 }, wantErr: true},
		{name: "default timeout above max", mutate: func(c *Config) { c.Task.DefaultTimeout = time.Hour }, wantErr: true},
		{name: "empty viewport", mutate: func(c *Config) { c.Render.Width = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRejectsInvalidPool(t *testing.T) {
	t.Setenv("POOL_MAX_SESSIONS", "1")
	t.Setenv("POOL_MIN_IDLE", "5")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 2, cfg.Pool.MaxSessions)
}
