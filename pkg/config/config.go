// Package config loads agent configuration from a YAML file with environment
// overrides. Sensitive values (credentials) are expected to come from the
// environment, typically via a .env file loaded in main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig holds login credentials and the session lifetime. Empty
// credentials disable login entirely.
type AuthConfig struct {
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// Config is the full agent configuration.
type Config struct {
	Name string `yaml:"name"` // agent display name; hostname when empty
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	EndpointsDir string `yaml:"endpoints_dir"` // manifest root for discovery
	LogsDir      string `yaml:"logs_dir"`      // per-process output files
	LogFile      string `yaml:"log_file"`      // agent log; empty = console only
	LogLevel     string `yaml:"log_level"`
	HistoryDB    string `yaml:"history_db"` // empty disables the audit log

	Auth AuthConfig `yaml:"auth"`

	// LoginRateLimit caps login attempts per client address per minute.
	// Zero applies the default; negative disables throttling.
	LoginRateLimit int `yaml:"login_rate_limit"`

	// AllowedCommands restricts what execute may spawn; empty allows anything.
	AllowedCommands   []string `yaml:"allowed_commands"`
	ShutdownCommand   []string `yaml:"shutdown_command"`
	ScreenshotCommand []string `yaml:"screenshot_command"`
}

// ApplyDefaults fills unset fields with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.EndpointsDir == "" {
		c.EndpointsDir = "endpoints"
	}
	if c.LogsDir == "" {
		c.LogsDir = "logs"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HistoryDB == "" {
		c.HistoryDB = "data/history.db"
	}
	if c.LoginRateLimit == 0 {
		c.LoginRateLimit = 10
	}
	if len(c.ShutdownCommand) == 0 {
		c.ShutdownCommand = []string{"shutdown", "-h", "now"}
	}
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.EndpointsDir == "" {
		return fmt.Errorf("endpoints_dir is required")
	}
	if c.Auth.SessionTTL < 0 {
		return fmt.Errorf("session_ttl must not be negative")
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads the YAML file at path (skipped when path is empty or missing),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("LANAGENT_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("LANAGENT_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("LANAGENT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("LANAGENT_ENDPOINTS_DIR"); v != "" {
		c.EndpointsDir = v
	}
	if v := os.Getenv("LANAGENT_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("LANAGENT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LANAGENT_HISTORY_DB"); v != "" {
		c.HistoryDB = v
	}
	if v := os.Getenv("LANAGENT_USERNAME"); v != "" {
		c.Auth.Username = v
	}
	if v := os.Getenv("LANAGENT_PASSWORD"); v != "" {
		c.Auth.Password = v
	}
	if v := os.Getenv("LANAGENT_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Auth.SessionTTL = d
		}
	}
}
