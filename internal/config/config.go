// Package config loads the bet slip engine configuration from a YAML file,
// an optional .env file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/betslip-engine/internal/contract"
	"github.com/atmx/betslip-engine/internal/model"
)

// Monitor confirmation sources.
const (
	SourceDelayed   = "delayed"    // confirm after a fixed delay (development)
	SourceRedis     = "redis"      // Pub/Sub subscription on tx:status:<id>
	SourceRedisPoll = "redis-poll" // poll the stored status key
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Program     ProgramConfig  `yaml:"program"`
	Parlay      ParlayConfig   `yaml:"parlay"`
	Monitor     MonitorConfig  `yaml:"monitor"`
	Session     SessionConfig  `yaml:"session"`
	Log         LogConfig      `yaml:"log"`
	MarketsFile string         `yaml:"markets_file"` // YAML market fixtures seeded at startup
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port                   string `yaml:"port"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig selects PostgreSQL. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig enables the read-through cache and the Redis confirmation source.
type RedisConfig struct {
	URL             string `yaml:"url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// ProgramConfig addresses the on-chain betting program.
type ProgramConfig struct {
	ID      string `yaml:"id"`
	Network string `yaml:"network"`
	Fee     uint64 `yaml:"fee"`
}

// ParlayConfig overrides the parlay boost table. Empty keeps the default.
type ParlayConfig struct {
	Tiers []TierConfig `yaml:"tiers"`
}

// TierConfig is one boost tier. Multiplier and reward are decimal strings.
type TierConfig struct {
	MinSelections int    `yaml:"min_selections"`
	Multiplier    string `yaml:"multiplier"`
	Reward        string `yaml:"reward"`
}

// MonitorConfig controls transaction confirmation tracking.
type MonitorConfig struct {
	Source              string `yaml:"source"` // delayed | redis | redis-poll
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	ConfirmDelaySeconds int    `yaml:"confirm_delay_seconds"`
}

// SessionConfig limits submissions per session and how long an unused
// session is kept.
type SessionConfig struct {
	SubmitsPerMinute   int `yaml:"submits_per_minute"`
	SubmitBurst        int `yaml:"submit_burst"`
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

// LogConfig controls the format and level of logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path and the .env file if present. Values
// from the environment override the file. An empty path uses defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if _, err := cfg.Tiers(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Target returns the program address for built calls.
func (c *Config) Target() contract.Target {
	return contract.Target{Program: c.Program.ID, Network: c.Program.Network, Fee: c.Program.Fee}
}

// Tiers converts the configured boost table. It returns nil when no tiers
// are configured.
func (c *Config) Tiers() ([]model.Tier, error) {
	if len(c.Parlay.Tiers) == 0 {
		return nil, nil
	}
	tiers := make([]model.Tier, len(c.Parlay.Tiers))
	for i, t := range c.Parlay.Tiers {
		mult, err := decimal.NewFromString(t.Multiplier)
		if err != nil {
			return nil, fmt.Errorf("config: tier %d multiplier %q: %w", i+1, t.Multiplier, err)
		}
		reward := decimal.Zero
		if t.Reward != "" {
			if reward, err = decimal.NewFromString(t.Reward); err != nil {
				return nil, fmt.Errorf("config: tier %d reward %q: %w", i+1, t.Reward, err)
			}
		}
		tiers[i] = model.Tier{
			Level:         i + 1,
			MinSelections: t.MinSelections,
			Multiplier:    mult,
			Reward:        reward,
		}
	}
	return tiers, nil
}

// MonitorTimeout returns the confirmation wait as a time.Duration.
func (c *Config) MonitorTimeout() time.Duration {
	return time.Duration(c.Monitor.TimeoutSeconds) * time.Second
}

// PollInterval returns the status poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

// ConfirmDelay returns the development confirmation delay.
func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.Monitor.ConfirmDelaySeconds) * time.Second
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

// SessionIdleTimeout returns how long an unused session is kept.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// applyEnvOverrides overrides values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("MONITOR_SOURCE"); v != "" {
		cfg.Monitor.Source = v
	}
	if v := os.Getenv("MONITOR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("MARKETS_FILE"); v != "" {
		cfg.MarketsFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills in required values left empty.
func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}
	if cfg.Redis.CacheTTLSeconds <= 0 {
		cfg.Redis.CacheTTLSeconds = 30
	}
	if cfg.Program.ID == "" {
		cfg.Program.ID = contract.DefaultProgram
	}
	if cfg.Program.Network == "" {
		cfg.Program.Network = contract.DefaultNetwork
	}
	if cfg.Program.Fee == 0 {
		cfg.Program.Fee = contract.DefaultFee
	}
	if cfg.Monitor.Source == "" {
		cfg.Monitor.Source = SourceDelayed
	}
	if cfg.Monitor.TimeoutSeconds <= 0 {
		cfg.Monitor.TimeoutSeconds = 300
	}
	if cfg.Monitor.PollIntervalSeconds <= 0 {
		cfg.Monitor.PollIntervalSeconds = 5
	}
	if cfg.Monitor.ConfirmDelaySeconds <= 0 {
		cfg.Monitor.ConfirmDelaySeconds = 5
	}
	if cfg.Session.SubmitsPerMinute <= 0 {
		cfg.Session.SubmitsPerMinute = 6
	}
	if cfg.Session.SubmitBurst <= 0 {
		cfg.Session.SubmitBurst = 2
	}
	if cfg.Session.IdleTimeoutSeconds <= 0 {
		cfg.Session.IdleTimeoutSeconds = 1800
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
