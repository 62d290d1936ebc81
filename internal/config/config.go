// Package config defines the equitybot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by EQUITYBOT_* environment variables.
type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Schedule ScheduleConfig `toml:"schedule"`
	Engine   EngineConfig   `toml:"engine"`

	// Portfolios and Strategies seed the store at startup.
	Portfolios []PortfolioSeed `toml:"portfolios"`
	Strategies []StrategySeed  `toml:"strategies"`

	Store    string `toml:"store"`
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// BrokerConfig selects the brokerage gateway and tunes calls to it.
type BrokerConfig struct {
	// Provider is auto, alpaca or simulated. auto uses Alpaca when
	// credentials resolve.
	Provider            string   `toml:"provider"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	CredentialsPath     string   `toml:"credentials_path"`
	CredentialsPassword string   `toml:"credentials_password"`
	TradingURL          string   `toml:"trading_url"`
	DataURL             string   `toml:"data_url"`
	Feed                string   `toml:"feed"`
	Timeout             duration `toml:"timeout"`
	ReadRetries         int      `toml:"read_retries"`
	RetryBackoff        duration `toml:"retry_backoff"`
	RateLimitPerMin     int      `toml:"rate_limit_per_min"`
	QuoteTTL            duration `toml:"quote_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters. Redis is optional; when
// disabled locks, the alert bus, the quote cache and the shared rate limit
// are turned off.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds the snapshot bucket settings. When disabled snapshots are
// kept in memory.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// alert kinds are sent; empty sends all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ScheduleConfig drives the daemon scheduler.
type ScheduleConfig struct {
	EvaluateInterval duration `toml:"evaluate_interval"`
	PollInterval     duration `toml:"poll_interval"`
	SyncInterval     duration `toml:"sync_interval"`
	// SnapshotTime is the exchange-local HH:MM at which the daily snapshot
	// runs.
	SnapshotTime    string `toml:"snapshot_time"`
	MarketHoursOnly bool   `toml:"market_hours_only"`
}

// EngineConfig tunes evaluation and alert delivery.
type EngineConfig struct {
	SignalThreshold float64  `toml:"signal_threshold"`
	BarLimit        int      `toml:"bar_limit"`
	AlertQueueSize  int      `toml:"alert_queue_size"`
	LockTTL         duration `toml:"lock_ttl"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs locally against the simulated broker
// and the in-memory store. These match config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Provider:        "auto",
			TradingURL:      "https://paper-api.alpaca.markets",
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			Timeout:         duration{30 * time.Second},
			ReadRetries:     3,
			RetryBackoff:    duration{500 * time.Millisecond},
			RateLimitPerMin: 200,
			QuoteTTL:        duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "equitybot",
			User:          "equitybot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "equitybot",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			UseSSL:         true,
			PartSizeMB:     5,
		},
		Schedule: ScheduleConfig{
			EvaluateInterval: duration{15 * time.Minute},
			PollInterval:     duration{time.Minute},
			SyncInterval:     duration{5 * time.Minute},
			SnapshotTime:     "16:15",
			MarketHoursOnly:  true,
		},
		Engine: EngineConfig{
			SignalThreshold: 0.2,
			BarLimit:        100,
			AlertQueueSize:  256,
			LockTTL:         duration{5 * time.Minute},
		},
		Store:    "memory",
		Mode:     "daemon",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"daemon":   true,
	"evaluate": true,
	"poll":     true,
	"sync":     true,
	"snapshot": true,
}

var validProviders = map[string]bool{
	"auto":      true,
	"alpaca":    true,
	"simulated": true,
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SnapshotClock parses Schedule.SnapshotTime into hour and minute.
func (c *Config) SnapshotClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(c.Schedule.SnapshotTime))
	if err != nil {
		return 0, 0, fmt.Errorf("schedule: snapshot_time %q must be HH:MM", c.Schedule.SnapshotTime)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks c for invalid or missing values and returns one error
// listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: daemon, evaluate, poll, sync, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if !validStores[strings.ToLower(c.Store)] {
		errs = append(errs, fmt.Sprintf("unknown store %q (valid: memory, postgres)", c.Store))
	}

	// Broker
	provider := strings.ToLower(c.Broker.Provider)
	if !validProviders[provider] {
		errs = append(errs, fmt.Sprintf("broker: unknown provider %q (valid: auto, alpaca, simulated)", c.Broker.Provider))
	}
	if (c.Broker.APIKey == "") != (c.Broker.APISecret == "") {
		errs = append(errs, "broker: api_key and api_secret must be set together")
	}
	if c.Broker.CredentialsPath != "" && c.Broker.CredentialsPassword == "" {
		errs = append(errs, "broker: credentials_password is required when credentials_path is set")
	}
	if provider == "alpaca" && c.Broker.APIKey == "" && c.Broker.CredentialsPath == "" {
		errs = append(errs, "broker: provider alpaca needs api_key/api_secret or credentials_path")
	}
	if c.Broker.Timeout.Duration <= 0 || c.Broker.Timeout.Duration > time.Minute {
		errs = append(errs, fmt.Sprintf("broker: timeout must be in (0, 1m], got %s", c.Broker.Timeout.Duration))
	}
	if c.Broker.ReadRetries < 0 {
		errs = append(errs, "broker: read_retries must be >= 0")
	}
	if c.Broker.RateLimitPerMin < 0 {
		errs = append(errs, "broker: rate_limit_per_min must be >= 0")
	}

	// Postgres
	if strings.ToLower(c.Store) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Schedule
	if strings.ToLower(c.Mode) == "daemon" {
		for name, d := range map[string]time.Duration{
			"evaluate_interval": c.Schedule.EvaluateInterval.Duration,
			"poll_interval":     c.Schedule.PollInterval.Duration,
			"sync_interval":     c.Schedule.SyncInterval.Duration,
		} {
			if d <= 0 {
				errs = append(errs, fmt.Sprintf("schedule: %s must be > 0", name))
			}
		}
		if _, _, err := c.SnapshotClock(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Engine
	if c.Engine.SignalThreshold <= 0 || c.Engine.SignalThreshold > 1 {
		errs = append(errs, fmt.Sprintf("engine: signal_threshold must be in (0, 1], got %g", c.Engine.SignalThreshold))
	}
	if c.Engine.BarLimit < 1 {
		errs = append(errs, "engine: bar_limit must be >= 1")
	}
	if c.Engine.AlertQueueSize < 1 {
		errs = append(errs, "engine: alert_queue_size must be >= 1")
	}

	errs = append(errs, c.validateSeeds()...)

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
