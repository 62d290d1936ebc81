package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment override.
const envPrefix = "EQUITYBOT_"

// Load builds the configuration from Defaults, the TOML file at path (skipped
// when path is empty), a .env file in the working directory if present and
// finally EQUITYBOT_* environment overrides. The result is not validated;
// call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose EQUITYBOT_* variable is set and
// non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.Provider, envPrefix+"BROKER_PROVIDER")
	setStr(&cfg.Broker.APIKey, envPrefix+"BROKER_API_KEY")
	setStr(&cfg.Broker.APISecret, envPrefix+"BROKER_API_SECRET")
	setStr(&cfg.Broker.CredentialsPath, envPrefix+"BROKER_CREDENTIALS_PATH")
	setStr(&cfg.Broker.CredentialsPassword, envPrefix+"BROKER_CREDENTIALS_PASSWORD")
	setStr(&cfg.Broker.TradingURL, envPrefix+"BROKER_TRADING_URL")
	setStr(&cfg.Broker.DataURL, envPrefix+"BROKER_DATA_URL")
	setStr(&cfg.Broker.Feed, envPrefix+"BROKER_FEED")
	setDuration(&cfg.Broker.Timeout, envPrefix+"BROKER_TIMEOUT")
	setInt(&cfg.Broker.ReadRetries, envPrefix+"BROKER_READ_RETRIES")
	setDuration(&cfg.Broker.RetryBackoff, envPrefix+"BROKER_RETRY_BACKOFF")
	setInt(&cfg.Broker.RateLimitPerMin, envPrefix+"BROKER_RATE_LIMIT_PER_MIN")
	setDuration(&cfg.Broker.QuoteTTL, envPrefix+"BROKER_QUOTE_TTL")
	// Alpaca's own variable names are honoured for the key pair.
	setStr(&cfg.Broker.APIKey, "APCA_API_KEY_ID")
	setStr(&cfg.Broker.APISecret, "APCA_API_SECRET_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, envPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, envPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, envPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, envPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, envPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, envPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, envPrefix+"POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, envPrefix+"POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, envPrefix+"POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, envPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, envPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, envPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, envPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, envPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, envPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, envPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, envPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, envPrefix+"REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, envPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, envPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, envPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, envPrefix+"S3_BUCKET")
	setStr(&cfg.S3.Prefix, envPrefix+"S3_PREFIX")
	setStr(&cfg.S3.AccessKey, envPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, envPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, envPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, envPrefix+"S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.PartSizeMB, envPrefix+"S3_PART_SIZE_MB")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, envPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, envPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, envPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, envPrefix+"NOTIFY_EVENTS")

	// ── Schedule ──
	setDuration(&cfg.Schedule.EvaluateInterval, envPrefix+"SCHEDULE_EVALUATE_INTERVAL")
	setDuration(&cfg.Schedule.PollInterval, envPrefix+"SCHEDULE_POLL_INTERVAL")
	setDuration(&cfg.Schedule.SyncInterval, envPrefix+"SCHEDULE_SYNC_INTERVAL")
	setStr(&cfg.Schedule.SnapshotTime, envPrefix+"SCHEDULE_SNAPSHOT_TIME")
	setBool(&cfg.Schedule.MarketHoursOnly, envPrefix+"SCHEDULE_MARKET_HOURS_ONLY")

	// ── Engine ──
	setFloat64(&cfg.Engine.SignalThreshold, envPrefix+"ENGINE_SIGNAL_THRESHOLD")
	setInt(&cfg.Engine.BarLimit, envPrefix+"ENGINE_BAR_LIMIT")
	setInt(&cfg.Engine.AlertQueueSize, envPrefix+"ENGINE_ALERT_QUEUE_SIZE")
	setDuration(&cfg.Engine.LockTTL, envPrefix+"ENGINE_LOCK_TTL")

	// ── Top-level ──
	setStr(&cfg.Store, envPrefix+"STORE")
	setStr(&cfg.Mode, envPrefix+"MODE")
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")
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
