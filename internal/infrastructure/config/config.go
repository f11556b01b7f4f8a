package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Browser   BrowserConfig
	Pool      PoolConfig
	Task      TaskConfig
	Fetch     FetchConfig
	Render    RenderConfig
	Feed      FeedConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	BaseURL         string        `envconfig:"APP_BASE_URL" default:""`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	Gzip            bool          `envconfig:"GZIP_ENABLED" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// BrowserConfig holds Chromium launch configuration.
type BrowserConfig struct {
	Headless       bool     `envconfig:"BROWSER_HEADLESS" default:"true"`
	Install        bool     `envconfig:"BROWSER_INSTALL" default:"false"`
	Args           []string `envconfig:"BROWSER_ARGS" default:"--no-sandbox,--disable-setuid-sandbox,--disable-dev-shm-usage,--no-zygote,--disable-gpu"`
	UserAgent      string   `envconfig:"BROWSER_USER_AGENT" default:""`
	ViewportWidth  int      `envconfig:"BROWSER_VIEWPORT_WIDTH" default:"1280"`
	ViewportHeight int      `envconfig:"BROWSER_VIEWPORT_HEIGHT" default:"720"`
	AllowedHosts   []string `envconfig:"BROWSER_ALLOWED_HOSTS" default:"*"`
}

// PoolConfig holds session pool configuration.
type PoolConfig struct {
	MinIdle        int           `envconfig:"POOL_MIN_IDLE" default:"1"`
	MaxSessions    int           `envconfig:"POOL_MAX_SESSIONS" default:"2"`
	MaxUses        int           `envconfig:"POOL_MAX_USES" default:"50"`
	MaxAge         time.Duration `envconfig:"POOL_MAX_AGE" default:"10m"`
	MaxIdleTime    time.Duration `envconfig:"POOL_MAX_IDLE_TIME" default:"5m"`
	AcquireTimeout time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"10s"`
	ReapInterval   time.Duration `envconfig:"POOL_REAP_INTERVAL" default:"30s"`
}

// TaskConfig holds per-task limits.
type TaskConfig struct {
	DefaultTimeout time.Duration `envconfig:"TASK_DEFAULT_TIMEOUT" default:"30s"`
	MaxTimeout     time.Duration `envconfig:"TASK_MAX_TIMEOUT" default:"120s"`
	MaxActions     int           `envconfig:"TASK_MAX_ACTIONS" default:"50"`
	PresetsFile    string        `envconfig:"PRESETS_FILE" default:""`
}

// FetchConfig holds outbound HTTP configuration.
type FetchConfig struct {
	Timeout       time.Duration `envconfig:"FETCH_TIMEOUT" default:"25s"`
	MaxImageBytes int64         `envconfig:"FETCH_MAX_IMAGE_BYTES" default:"6000000"`
	UserAgent     string        `envconfig:"FETCH_USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome Safari"`
	Referer       string        `envconfig:"FETCH_REFERER" default:""`
	RetryMax      int           `envconfig:"FETCH_RETRY_MAX" default:"2"`
	RPS           float64       `envconfig:"FETCH_RPS" default:"0"`
}

// RenderConfig holds product-card rendering configuration.
type RenderConfig struct {
	Width         int           `envconfig:"RENDER_WIDTH" default:"1080"`
	Height        int           `envconfig:"RENDER_HEIGHT" default:"1080"`
	StaticDir     string        `envconfig:"RENDER_STATIC_DIR" default:"frameassets"`
	TemplateDir   string        `envconfig:"RENDER_TEMPLATE_DIR" default:""`
	LogoPath      string        `envconfig:"RENDER_LOGO_PATH" default:"/static/logo.svg"`
	FallbackBlank bool          `envconfig:"RENDER_FALLBACK_BLANK" default:"true"`
	Timeout       time.Duration `envconfig:"RENDER_TIMEOUT" default:"30s"`
}

// FeedConfig holds merchant feed configuration.
type FeedConfig struct {
	URL     string        `envconfig:"FEED_URL" default:"https://www.vatkali.com/Xml/?Type=FACEBOOK&fname=vatkali"`
	Timeout time.Duration `envconfig:"FEED_TIMEOUT" default:"60s"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Pool.MaxSessions <= 0 {
		return fmt.Errorf("POOL_MAX_SESSIONS must be positive, got %d", c.Pool.MaxSessions)
	}
	if c.Pool.MinIdle < 0 || c.Pool.MinIdle > c.Pool.MaxSessions {
		return fmt.Errorf("POOL_MIN_IDLE must be within [0, %d], got %d", c.Pool.MaxSessions, c.Pool.MinIdle)
	}
	if c.Task.DefaultTimeout <= 0 || c.Task.MaxTimeout < c.Task.DefaultTimeout {
		return fmt.Errorf("TASK_DEFAULT_TIMEOUT (%s) must be positive and not exceed TASK_MAX_TIMEOUT (%s)",
			c.Task.DefaultTimeout, c.Task.MaxTimeout)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render viewport must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
			Gzip:            true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
		Browser: BrowserConfig{
			Headless: true,
			Args: []string{
				"--no-sandbox",
				"--disable-setuid-sandbox",
				"--disable-dev-shm-usage",
				"--no-zygote",
				"--disable-gpu",
			},
			ViewportWidth:  1280,
			ViewportHeight: 720,
			AllowedHosts:   []string{"*"},
		},
		Pool: PoolConfig{
			MinIdle:        1,
			MaxSessions:    2,
			MaxUses:        50,
			MaxAge:         10 * time.Minute,
			MaxIdleTime:    5 * time.Minute,
			AcquireTimeout: 10 * time.Second,
			ReapInterval:   30 * time.Second,
		},
		Task: TaskConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     120 * time.Second,
			MaxActions:     50,
		},
		Fetch: FetchConfig{
			Timeout:       25 * time.Second,
			MaxImageBytes: 6_000_000,
			UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome Safari",
			RetryMax:      2,
		},
		Render: RenderConfig{
			Width:         1080,
			Height:        1080,
			StaticDir:     "frameassets",
			LogoPath:      "/static/logo.svg",
			FallbackBlank: true,
			Timeout:       30 * time.Second,
		},
		Feed: FeedConfig{
			URL:     "https://www.vatkali.com/Xml/?Type=FACEBOOK&fname=vatkali",
			Timeout: 60 * time.Second,
		},
	}
}
