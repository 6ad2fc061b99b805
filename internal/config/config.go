package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`
	Log      LogConfig      `yaml:"log"`
	Timezone string         `yaml:"timezone"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URI    string `yaml:"uri"`
	Path   string `yaml:"path"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type JobsConfig struct {
	SweepSpec     string `yaml:"sweep_spec"`
	PurgeSpec     string `yaml:"purge_spec"`
	RealignSpec   string `yaml:"realign_spec"`
	RetentionDays int    `yaml:"retention_days"`
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "data/medline.db"},
		Log:      LogConfig{Level: "info"},
		Timezone: "Local",
		Jobs: JobsConfig{
			SweepSpec:     "@every 15m",
			PurgeSpec:     "0 3 * * *",
			RealignSpec:   "30 3 * * *",
			RetentionDays: 90,
		},
	}
}

// Load builds the configuration from, in increasing priority: built-in
// defaults, the YAML file named by CONFIG_FILE, and the environment
// (including a .env file in the working directory).
func Load() (*Config, error) {
	// .env file is optional in production
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Database.Driver = getEnvOrDefault("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URI = getEnvOrDefault("DATABASE_URI", c.Database.URI)
	c.Database.Path = getEnvOrDefault("DATA_PATH", c.Database.Path)
	c.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Timezone = getEnvOrDefault("TIMEZONE", c.Timezone)
	c.Jobs.SweepSpec = getEnvOrDefault("SWEEP_SPEC", c.Jobs.SweepSpec)
	c.Jobs.PurgeSpec = getEnvOrDefault("PURGE_SPEC", c.Jobs.PurgeSpec)
	c.Jobs.RealignSpec = getEnvOrDefault("REALIGN_SPEC", c.Jobs.RealignSpec)

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		c.Telegram.ChatID = id
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.Log.Pretty = pretty
	}
	if v := os.Getenv("LOG_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_RETENTION_DAYS %q: %w", v, err)
		}
		c.Jobs.RetentionDays = days
	}
	return nil
}

func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("DATA_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URI == "" {
			return fmt.Errorf("DATABASE_URI is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	if c.Jobs.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be positive, got %d", c.Jobs.RetentionDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone. "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionDays) * 24 * time.Hour
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
