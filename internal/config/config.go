// Package config defines the top-level configuration for the arbitrage bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBCORE_* environment
// variables.
type Config struct {
	Instruments []string      `toml:"instruments"`
	Venues      []VenueConfig `toml:"venues"`

	Detector  DetectorConfig  `toml:"detector"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`

	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`

	// Mode is one of monitor, paper, trade, recover.
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// VenueConfig describes one venue connection.
type VenueConfig struct {
	ID      string  `toml:"id"`
	WsURL   string  `toml:"ws_url"`
	RestURL string  `toml:"rest_url"`
	FeeBps  float64 `toml:"fee_bps"`
	// LatencyRank breaks detector ties; lower means faster venue.
	LatencyRank int `toml:"latency_rank"`

	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	Enabled bool `toml:"enabled"`
}

// DetectorConfig tunes opportunity detection.
type DetectorConfig struct {
	MinProfitUSD    float64  `toml:"min_profit_usd"`
	MaxPositionSize float64  `toml:"max_position_size"`
	SlippageBps     float64  `toml:"slippage_bps"`
	Debounce        duration `toml:"debounce"`
	Expiry          duration `toml:"expiry"`
}

// RiskConfig tunes the admission gate.
type RiskConfig struct {
	MaxVenueExposure      float64  `toml:"max_venue_exposure"`
	MaxInstrumentExposure float64  `toml:"max_instrument_exposure"`
	Cooldown              duration `toml:"cooldown"`
	LeaseTTL              duration `toml:"lease_ttl"`
}

// ExecutionConfig tunes the execution state machine.
type ExecutionConfig struct {
	AttemptTimeout   duration `toml:"attempt_timeout"`
	UnwindTimeout    duration `toml:"unwind_timeout"`
	FillToleranceBps float64  `toml:"fill_tolerance_bps"`
	SequentialLegs   bool     `toml:"sequential_legs"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object-store parameters for the accounting archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays is how long history stays in Postgres before the
	// archiver exports it.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds the status HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration wraps time.Duration for TOML decoding of strings like "50ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the built-in configuration. Every field a TOML file can
// omit has a sensible value here.
func Defaults() Config {
	return Config{
		Detector: DetectorConfig{
			MinProfitUSD:    1.0,
			MaxPositionSize: 10.0,
			SlippageBps:     5,
			Debounce:        duration{50 * time.Millisecond},
			Expiry:          duration{1500 * time.Millisecond},
		},
		Risk: RiskConfig{
			MaxVenueExposure:      100.0,
			MaxInstrumentExposure: 200.0,
			Cooldown:              duration{500 * time.Millisecond},
			LeaseTTL:              duration{30 * time.Second},
		},
		Execution: ExecutionConfig{
			AttemptTimeout:   duration{5 * time.Second},
			UnwindTimeout:    duration{5 * time.Second},
			FillToleranceBps: 50,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		S3: S3Config{
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"monitor": true,
	"paper":   true,
	"trade":   true,
	"recover": true,
}

// Validate checks the configuration for internal consistency. It returns
// the first problem found.
func (c *Config) Validate() error {
	if !validModes[c.Mode] {
		return fmt.Errorf("config: unknown mode %q (want monitor, paper, trade, or recover)", c.Mode)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument is required")
	}

	enabled := 0
	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.ID == "" {
			return fmt.Errorf("config: venues[%d]: id is required", i)
		}
		if seen[v.ID] {
			return fmt.Errorf("config: duplicate venue id %q", v.ID)
		}
		seen[v.ID] = true
		if !v.Enabled {
			continue
		}
		enabled++
		if c.Mode == "trade" || c.Mode == "recover" {
			if v.WsURL == "" {
				return fmt.Errorf("config: venue %s: ws_url is required in %s mode", v.ID, c.Mode)
			}
			if v.RestURL == "" {
				return fmt.Errorf("config: venue %s: rest_url is required in %s mode", v.ID, c.Mode)
			}
		}
		if v.FeeBps < 0 {
			return fmt.Errorf("config: venue %s: fee_bps must not be negative", v.ID)
		}
	}
	if enabled < 2 {
		return fmt.Errorf("config: at least two enabled venues are required, got %d", enabled)
	}

	if c.Detector.MinProfitUSD < 0 {
		return fmt.Errorf("config: detector.min_profit_usd must not be negative")
	}
	if c.Detector.MaxPositionSize <= 0 {
		return fmt.Errorf("config: detector.max_position_size must be positive")
	}
	if c.Risk.MaxVenueExposure <= 0 || c.Risk.MaxInstrumentExposure <= 0 {
		return fmt.Errorf("config: risk exposure limits must be positive")
	}
	if c.Execution.FillToleranceBps < 0 {
		return fmt.Errorf("config: execution.fill_tolerance_bps must not be negative")
	}

	if c.Mode == "trade" || c.Mode == "recover" {
		if !c.Postgres.Enabled {
			return fmt.Errorf("config: postgres must be enabled in %s mode", c.Mode)
		}
		if !c.Redis.Enabled {
			return fmt.Errorf("config: redis must be enabled in %s mode", c.Mode)
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// EnabledVenues returns only the venues with enabled = true.
func (c *Config) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

// VenueFeeBps returns the per-venue fee map the detector and executor use.
func (c *Config) VenueFeeBps() map[string]float64 {
	out := make(map[string]float64, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out[v.ID] = v.FeeBps
		}
	}
	return out
}

// VenueLatency returns the per-venue latency rank map.
func (c *Config) VenueLatency() map[string]int {
	out := make(map[string]int, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out[v.ID] = v.LatencyRank
		}
	}
	return out
}
