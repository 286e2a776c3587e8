// Package config handles configuration loading and validation for moodflow.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server" json:"server"`
	Storage StorageConfig `toml:"storage" yaml:"storage" json:"storage"`
	Logging LoggingConfig `toml:"logging" yaml:"logging" json:"logging"`
	Stats   StatsConfig   `toml:"stats" yaml:"stats" json:"stats"`
	Auth    AuthConfig    `toml:"auth" yaml:"auth" json:"auth"`
}

type ServerConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`
	// ShutdownTimeoutSec bounds graceful shutdown.
	ShutdownTimeoutSec int `toml:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec" json:"shutdown_timeout_sec"`
}

type StorageConfig struct {
	// Driver is one of postgres, sqlite, memory.
	Driver string `toml:"driver" yaml:"driver" json:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn" json:"dsn"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

type StatsConfig struct {
	// TimeZone is the IANA name of the reference zone for calendar days.
	TimeZone        string `toml:"time_zone" yaml:"time_zone" json:"time_zone"`
	RecomputeOnRead bool   `toml:"recompute_on_read" yaml:"recompute_on_read" json:"recompute_on_read"`
	RecentLimit     int    `toml:"recent_limit" yaml:"recent_limit" json:"recent_limit"`
}

type AuthConfig struct {
	// DevUser is used when a request carries no identity header. Leave
	// empty outside local development.
	DevUser string `toml:"dev_user" yaml:"dev_user" json:"dev_user"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			ShutdownTimeoutSec: 10,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "moodflow.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Stats: StatsConfig{
			TimeZone:        "UTC",
			RecomputeOnRead: true,
			RecentLimit:     20,
		},
	}
}

// Load reads configuration from path. A missing file yields the defaults.
// The format follows the extension: .toml, .yaml/.yml or .json.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}
	return cfg, nil
}

// ApplyEnvOverrides applies MOODFLOW_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MOODFLOW_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("MOODFLOW_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	// DSNs carry credentials, so they are usually injected this way.
	if v := os.Getenv("MOODFLOW_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("MOODFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MOODFLOW_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("MOODFLOW_TIME_ZONE"); v != "" {
		c.Stats.TimeZone = v
	}
	if v := os.Getenv("MOODFLOW_RECOMPUTE_ON_READ"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Stats.RecomputeOnRead = b
		}
	}
	if v := os.Getenv("MOODFLOW_DEV_USER"); v != "" {
		c.Auth.DevUser = v
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeoutSec < 0 {
		errs = append(errs, "server.shutdown_timeout_sec must not be negative")
	}

	switch c.Storage.Driver {
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Sprintf("storage.dsn is required for driver %s", c.Storage.Driver))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q must be postgres, sqlite or memory", c.Storage.Driver))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}

	if _, err := time.LoadLocation(c.Stats.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("stats.time_zone: %v", err))
	}
	if c.Stats.RecentLimit < 0 {
		errs = append(errs, "stats.recent_limit must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the reference time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Stats.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
