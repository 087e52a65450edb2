package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARBCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARBCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file. Per-venue credentials are keyed by the upper-cased venue id, e.g.
// ARBCORE_VENUE_ALPHA_API_SECRET.
func applyEnvOverrides(cfg *Config) {
	// ── Venues ──
	for i := range cfg.Venues {
		prefix := "ARBCORE_VENUE_" + envKey(cfg.Venues[i].ID) + "_"
		setStr(&cfg.Venues[i].WsURL, prefix+"WS_URL")
		setStr(&cfg.Venues[i].RestURL, prefix+"REST_URL")
		setStr(&cfg.Venues[i].ApiKey, prefix+"API_KEY")
		setStr(&cfg.Venues[i].ApiSecret, prefix+"API_SECRET")
		setStr(&cfg.Venues[i].EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&cfg.Venues[i].SecretPassword, prefix+"SECRET_PASSWORD")
	}

	// ── Detector ──
	setFloat64(&cfg.Detector.MinProfitUSD, "ARBCORE_DETECTOR_MIN_PROFIT_USD")
	setFloat64(&cfg.Detector.MaxPositionSize, "ARBCORE_DETECTOR_MAX_POSITION_SIZE")
	setFloat64(&cfg.Detector.SlippageBps, "ARBCORE_DETECTOR_SLIPPAGE_BPS")
	setDuration(&cfg.Detector.Debounce, "ARBCORE_DETECTOR_DEBOUNCE")
	setDuration(&cfg.Detector.Expiry, "ARBCORE_DETECTOR_EXPIRY")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxVenueExposure, "ARBCORE_RISK_MAX_VENUE_EXPOSURE")
	setFloat64(&cfg.Risk.MaxInstrumentExposure, "ARBCORE_RISK_MAX_INSTRUMENT_EXPOSURE")
	setDuration(&cfg.Risk.Cooldown, "ARBCORE_RISK_COOLDOWN")
	setDuration(&cfg.Risk.LeaseTTL, "ARBCORE_RISK_LEASE_TTL")

	// ── Execution ──
	setDuration(&cfg.Execution.AttemptTimeout, "ARBCORE_EXECUTION_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Execution.UnwindTimeout, "ARBCORE_EXECUTION_UNWIND_TIMEOUT")
	setFloat64(&cfg.Execution.FillToleranceBps, "ARBCORE_EXECUTION_FILL_TOLERANCE_BPS")
	setBool(&cfg.Execution.SequentialLegs, "ARBCORE_EXECUTION_SEQUENTIAL_LEGS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBCORE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBCORE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBCORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBCORE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBCORE_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBCORE_SERVER_PORT")

	// ── Top-level ──
	setStringSlice(&cfg.Instruments, "ARBCORE_INSTRUMENTS")
	setStr(&cfg.Mode, "ARBCORE_MODE")
	setStr(&cfg.LogLevel, "ARBCORE_LOG_LEVEL")
}

// envKey normalises a venue id for use inside an environment variable name.
func envKey(id string) string {
	id = strings.ToUpper(id)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
