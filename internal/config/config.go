// Package config loads bot configuration from an optional YAML file with
// environment-variable overrides. A .env file is honored if present.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Config is the full bot configuration.
type Config struct {
	// Token is the Telegram bot token. Required; never logged.
	Token string `yaml:"token" env:"BOT_TOKEN"`

	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`
	// BusyTimeoutMS is the sqlite busy_timeout pragma, in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	LogJSON  bool   `yaml:"log_json" env:"LOG_JSON"`

	// CheckIntervalSeconds is the scheduler tick period. Floor 1.
	CheckIntervalSeconds int `yaml:"check_interval_seconds" env:"CHECK_INTERVAL_SECONDS"`
	// MinDeliveryIntervalSeconds spaces sends to the same channel.
	MinDeliveryIntervalSeconds int `yaml:"min_delivery_interval_seconds" env:"MIN_DELIVERY_INTERVAL_SECONDS"`
	DefaultTimezone            string `yaml:"default_timezone" env:"DEFAULT_TIMEZONE"`

	// AdminUserIDs may use /stats and other admin commands.
	AdminUserIDs []int64 `yaml:"admin_user_ids" env:"ADMIN_USER_IDS" envSeparator:","`
}

func defaults() Config {
	return Config{
		DatabasePath:               "./data/scheduler.db",
		BusyTimeoutMS:              5000,
		LogLevel:                   "info",
		CheckIntervalSeconds:       60,
		MinDeliveryIntervalSeconds: 3,
		DefaultTimezone:            "UTC",
	}
}

// Load reads configuration. path may be empty or point to a missing file;
// environment variables still apply.
func Load(path string) (Config, error) {
	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// fall through to env-only config
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.clamp()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) clamp() {
	if c.CheckIntervalSeconds < 1 {
		c.CheckIntervalSeconds = 1
	}
	if c.MinDeliveryIntervalSeconds < 0 {
		c.MinDeliveryIntervalSeconds = 0
	}
	if c.DefaultTimezone == "" {
		c.DefaultTimezone = "UTC"
	}
}

func (c Config) validate() error {
	if c.Token == "" {
		return errors.New("bot token is required (BOT_TOKEN or token in config file)")
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	return nil
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

func (c Config) MinDeliveryInterval() time.Duration {
	return time.Duration(c.MinDeliveryIntervalSeconds) * time.Second
}

func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// IsAdmin reports whether the user is in the configured admin list.
func (c Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
