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
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// Gzip compresses responses for clients that accept it.
	Gzip bool `envconfig:"HTTP_GZIP" default:"true"`
	// CORSOrigins restricts cross-origin access; empty allows any origin.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`
}

// ShellConfig holds interpreter session configuration.
type ShellConfig struct {
	Profile      string        `envconfig:"SHELL_PROFILE" default:"sh"`
	ProfilesFile string        `envconfig:"SHELL_PROFILES_FILE"`
	WorkDir      string        `envconfig:"SHELL_WORKDIR"`
	Timeout      time.Duration `envconfig:"SHELL_TIMEOUT" default:"10s"`
	StartTimeout time.Duration `envconfig:"SHELL_START_TIMEOUT" default:"5s"`
	CloseTimeout time.Duration `envconfig:"SHELL_CLOSE_TIMEOUT" default:"2s"`
	Debug        bool          `envconfig:"SHELL_DEBUG" default:"false"`
	MaxSessions  int           `envconfig:"SHELL_MAX_SESSIONS" default:"16"`

	// Consecutive spawn failures of one profile before its breaker opens,
	// and how long it then stays open.
	SpawnFailures uint32        `envconfig:"SHELL_SPAWN_FAILURES" default:"3"`
	SpawnCooldown time.Duration `envconfig:"SHELL_SPAWN_COOLDOWN" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
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

// Validate rejects values the session layer cannot work with.
func (c *Config) Validate() error {
	if c.Shell.Timeout <= 0 {
		return fmt.Errorf("SHELL_TIMEOUT must be positive, got %s", c.Shell.Timeout)
	}
	if c.Shell.MaxSessions < 1 {
		return fmt.Errorf("SHELL_MAX_SESSIONS must be at least 1, got %d", c.Shell.MaxSessions)
	}
	if c.Shell.Profile == "" {
		return fmt.Errorf("SHELL_PROFILE must not be empty")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
			Gzip: true,
		},
		Shell: ShellConfig{
			Profile:       "sh",
			Timeout:       10 * time.Second,
			StartTimeout:  5 * time.Second,
			CloseTimeout:  2 * time.Second,
			MaxSessions:   16,
			SpawnFailures: 3,
			SpawnCooldown: 30 * time.Second,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
