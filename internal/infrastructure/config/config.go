package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Shell     ShellConfig
	Watch     WatchConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
}

// ShellConfig holds session and job settings.
type ShellConfig struct {
	Rows         uint16        `envconfig:"SHELL_PTY_ROWS" default:"24"`
	Cols         uint16        `envconfig:"SHELL_PTY_COLS" default:"80"`
	TickInterval time.Duration `envconfig:"SHELL_TICK_INTERVAL" default:"50ms"`
	ReadChunk    int           `envconfig:"SHELL_READ_CHUNK" default:"4096"`
	HistoryFile  string        `envconfig:"SHELL_HISTORY_FILE"`
	HistoryLimit int           `envconfig:"SHELL_HISTORY_LIMIT" default:"10000"`
}

// WatchConfig holds watch-all supervisor settings.
type WatchConfig struct {
	Interval    time.Duration `envconfig:"WATCH_INTERVAL" default:"2s"`
	PollTimeout time.Duration `envconfig:"WATCH_POLL_TIMEOUT" default:"200ms"`
	Dir         string        `envconfig:"WATCH_DIR"`
	Shell       string        `envconfig:"WATCH_SHELL" default:"sh"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string   `envconfig:"LOG_LEVEL" default:"info"`
	Development bool     `envconfig:"LOG_DEV" default:"false"`
	Output      []string `envconfig:"LOG_OUTPUT" default:"stderr"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
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

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "127.0.0.1",
		},
		Shell: ShellConfig{
			Rows:         24,
			Cols:         80,
			TickInterval: 50 * time.Millisecond,
			ReadChunk:    4096,
			HistoryLimit: 10000,
		},
		Watch: WatchConfig{
			Interval:    2 * time.Second,
			PollTimeout: 200 * time.Millisecond,
			Shell:       "sh",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			Output:      []string{"stderr"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
