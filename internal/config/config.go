// Package config loads and validates the assistant platform configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the platform.
type Config struct {
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Telegram Telegram `yaml:"telegram"`
	Limits   Limits   `yaml:"limits"`
	LLM      LLM      `yaml:"llm"`
	Calendar Calendar `yaml:"calendar"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Database configures the SQLite store shared by the wallet and owner tables.
type Database struct {
	Path string `yaml:"path"`
}

// Redis configures the counter store used for rate limiting. When disabled,
// an in-process counter store is used instead.
type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Telegram configures transport-level behavior shared by all tenant workers.
type Telegram struct {
	// AdminIDs bypass rate limiting entirely.
	AdminIDs []int64 `yaml:"admin_ids"`
}

// Limits holds the per-plan rate limits and monthly token allowances.
// Unknown plans fall back to the "free" entry.
type Limits struct {
	RPM           map[string]int   `yaml:"rpm"`
	RPD           map[string]int   `yaml:"rpd"`
	MonthlyTokens map[string]int64 `yaml:"monthly_tokens"`
}

// LLM configures the OpenRouter-compatible completion endpoint.
type LLM struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Temperature  float32 `yaml:"temperature"`
	HistoryDepth int     `yaml:"history_depth"`
}

// Calendar configures the confirmation flow.
type Calendar struct {
	DefaultTimezone string        `yaml:"default_timezone"`
	ConfirmTTL      time.Duration `yaml:"confirm_ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// Metrics configures the Prometheus scrape endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads a YAML config file, expanding ${VAR} environment references,
// and applies defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		c.Database.Path = "db.db"
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Limits.RPM == nil {
		c.Limits.RPM = map[string]int{}
	}
	if _, ok := c.Limits.RPM["free"]; !ok {
		c.Limits.RPM["free"] = 20
	}
	if _, ok := c.Limits.RPM["premium"]; !ok {
		c.Limits.RPM["premium"] = 60
	}
	if c.Limits.RPD == nil {
		c.Limits.RPD = map[string]int{}
	}
	if _, ok := c.Limits.RPD["free"]; !ok {
		c.Limits.RPD["free"] = 500
	}
	if _, ok := c.Limits.RPD["premium"]; !ok {
		c.Limits.RPD["premium"] = 5000
	}
	if c.Limits.MonthlyTokens == nil {
		c.Limits.MonthlyTokens = map[string]int64{}
	}
	if _, ok := c.Limits.MonthlyTokens["free"]; !ok {
		c.Limits.MonthlyTokens["free"] = 400
	}
	if _, ok := c.Limits.MonthlyTokens["premium"]; !ok {
		c.Limits.MonthlyTokens["premium"] = 80000
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "deepseek/deepseek-chat"
	}
	if c.LLM.HistoryDepth == 0 {
		c.LLM.HistoryDepth = 20
	}

	if c.Calendar.DefaultTimezone == "" {
		c.Calendar.DefaultTimezone = "Europe/Berlin"
	}
	if _, err := time.LoadLocation(c.Calendar.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid calendar.default_timezone %q: %w", c.Calendar.DefaultTimezone, err)
	}
	if c.Calendar.ConfirmTTL == 0 {
		c.Calendar.ConfirmTTL = 15 * time.Minute
	}
	if c.Calendar.SweepInterval == 0 {
		c.Calendar.SweepInterval = 5 * time.Minute
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	return nil
}

// DefaultLocation returns the configured fallback timezone. Validate has
// already checked that the name resolves.
func (c *Config) DefaultLocation() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
