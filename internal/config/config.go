// Package config loads service configuration from a YAML file with
// environment variable overrides for deploy-time secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ahmad-codex/precog/internal/core"
	"github.com/ahmad-codex/precog/internal/cycle"
)

// Duration parses yaml duration strings like "24h" or "90s". Bare integers
// are taken as nanoseconds, matching time.Duration's underlying unit.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all service configuration.
type Config struct {
	HTTP struct {
		Addr        string `yaml:"addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"http"`

	Auth struct {
		AdminKey      string `yaml:"admin_key"`
		MiddlewareKey string `yaml:"middleware_key"`
		GatewayKey    string `yaml:"gateway_key"`
	} `yaml:"auth"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	NATS struct {
		URL     string `yaml:"url"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"nats"`

	Cycles struct {
		TradingCycle         Duration `yaml:"trading_cycle"`
		FundingWindow        Duration `yaml:"funding_window"`
		DefundingWindow      Duration `yaml:"defunding_window"`
		FirstDefundingWindow Duration `yaml:"first_defunding_window"`
	} `yaml:"cycles"`

	Fees core.FeeConfig `yaml:"fees"`
	Caps core.CapConfig `yaml:"caps"`

	InvestmentTakeRatePPM int64 `yaml:"investment_take_rate_ppm"`

	Channels struct {
		PersistBuffer    int `yaml:"persist_buffer"`
		ProjectionBuffer int `yaml:"projection_buffer"`
		PublishBuffer    int `yaml:"publish_buffer"`
	} `yaml:"channels"`

	Persistence struct {
		BatchSize    int      `yaml:"batch_size"`
		FlushTimeout Duration `yaml:"flush_timeout"`
	} `yaml:"persistence"`

	Schedule struct {
		RolloverCron string `yaml:"rollover_cron"`
		SnapshotCron string `yaml:"snapshot_cron"`
	} `yaml:"schedule"`

	MigrationsDir string `yaml:"migrations_dir"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("PRECOG_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PRECOG_METRICS_ADDR"); v != "" {
		cfg.HTTP.MetricsAddr = v
	}
	if v := os.Getenv("PRECOG_ADMIN_KEY"); v != "" {
		cfg.Auth.AdminKey = v
	}
	if v := os.Getenv("PRECOG_MIDDLEWARE_KEY"); v != "" {
		cfg.Auth.MiddlewareKey = v
	}
	if v := os.Getenv("PRECOG_GATEWAY_KEY"); v != "" {
		cfg.Auth.GatewayKey = v
	}
	if v := os.Getenv("PRECOG_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PRECOG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("PRECOG_TRADING_CYCLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cycles.TradingCycle = Duration(d)
		}
	}
	if v := os.Getenv("PRECOG_TAKE_RATE_PPM"); v != "" {
		if r, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.InvestmentTakeRatePPM = r
		}
	}

	// Defaults
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.MetricsAddr == "" {
		cfg.HTTP.MetricsAddr = ":9100"
	}
	if cfg.Cycles.TradingCycle == 0 {
		cfg.Cycles.TradingCycle = Duration(24 * time.Hour)
	}
	if cfg.Channels.PersistBuffer == 0 {
		cfg.Channels.PersistBuffer = 10000
	}
	if cfg.Channels.ProjectionBuffer == 0 {
		cfg.Channels.ProjectionBuffer = 10000
	}
	if cfg.Channels.PublishBuffer == 0 {
		cfg.Channels.PublishBuffer = 10000
	}
	if cfg.Persistence.BatchSize == 0 {
		cfg.Persistence.BatchSize = 100
	}
	if cfg.Persistence.FlushTimeout == 0 {
		cfg.Persistence.FlushTimeout = Duration(100 * time.Millisecond)
	}
	if cfg.Schedule.RolloverCron == "" {
		cfg.Schedule.RolloverCron = "@every 1m"
	}
	if cfg.Schedule.SnapshotCron == "" {
		cfg.Schedule.SnapshotCron = "@every 5m"
	}
	if cfg.MigrationsDir == "" {
		cfg.MigrationsDir = "migrations"
	}

	return cfg, nil
}

// CycleConfig converts the yaml cycle section into the engine's cycle config.
func (c *Config) CycleConfig() cycle.Config {
	return cycle.Config{
		TradingCycle:         c.Cycles.TradingCycle.Std(),
		FundingWindow:        c.Cycles.FundingWindow.Std(),
		DefundingWindow:      c.Cycles.DefundingWindow.Std(),
		FirstDefundingWindow: c.Cycles.FirstDefundingWindow.Std(),
	}
}

// Validate checks that required fields are set.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Auth.AdminKey == "" {
		return fmt.Errorf("auth.admin_key is required")
	}
	if c.Auth.MiddlewareKey == "" {
		return fmt.Errorf("auth.middleware_key is required")
	}
	if c.Auth.GatewayKey == "" {
		return fmt.Errorf("auth.gateway_key is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.Cycles.TradingCycle <= 0 {
		return fmt.Errorf("cycles.trading_cycle must be positive")
	}
	return nil
}
