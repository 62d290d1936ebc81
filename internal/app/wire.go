package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/equitybot/internal/blob/s3"
	"github.com/alanyoungcy/equitybot/internal/broker"
	"github.com/alanyoungcy/equitybot/internal/cache/redis"
	"github.com/alanyoungcy/equitybot/internal/config"
	"github.com/alanyoungcy/equitybot/internal/domain"
	"github.com/alanyoungcy/equitybot/internal/notify"
	"github.com/alanyoungcy/equitybot/internal/service"
	"github.com/alanyoungcy/equitybot/internal/store/memory"
	"github.com/alanyoungcy/equitybot/internal/store/postgres"
	"github.com/alanyoungcy/equitybot/internal/strategy"
)

// Dependencies bundles everything the jobs need. It is built by Wire and torn
// down by the cleanup function Wire returns.
type Dependencies struct {
	// Stores
	Portfolios domain.PortfolioStore
	Positions  domain.PositionStore
	Trades     domain.TradeStore
	Ledger     domain.LedgerStore
	Strategies domain.StrategyStore
	Bars       domain.BarStore
	Audit      domain.AuditStore

	// Optional redis-backed capabilities; nil when redis is disabled.
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter
	QuoteCache  domain.QuoteCache
	SignalBus   domain.SignalBus

	// Snapshot target: S3 when enabled, memory otherwise.
	Blobs domain.BlobWriter

	// Brokerage gateway. Simulated is set only for the simulated variant.
	Broker    *broker.Resilient
	Simulated *broker.Simulated

	// Alert delivery. Services emit into Alerts; the queue drains into
	// Dispatcher.
	Notifier   *notify.Notifier
	Alerts     *notify.Queue
	Dispatcher *notify.Dispatcher

	// Services
	Runner    *service.StrategyService
	Execution *service.ExecutionService
	Tracker   *service.OrderTracker
	Reconcile *service.PositionService
	Snapshots *service.SnapshotService
}

// Wire constructs every dependency from cfg and returns them with a cleanup
// function that releases connections in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Persistence ---
	switch strings.ToLower(cfg.Store) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := postgres.NewStores(pgClient.Pool())
		deps.Portfolios = stores.Portfolios
		deps.Positions = stores.Positions
		deps.Trades = stores.Trades
		deps.Ledger = stores.Ledger
		deps.Strategies = stores.Strategies
		deps.Bars = stores.Bars
		deps.Audit = stores.Audit
	default:
		logger.WarnContext(ctx, "wire: using in-memory store, state is lost on exit")
		mem := memory.New()
		deps.Portfolios = mem.Portfolios()
		deps.Positions = mem.Positions()
		deps.Trades = mem.Trades()
		deps.Ledger = mem.Ledger()
		deps.Strategies = mem.Strategies()
		deps.Bars = mem.Bars()
		deps.Audit = mem.Audit()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient, logger)
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		if cfg.Broker.RateLimitPerMin > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Broker.RateLimitPerMin, time.Minute)
		}
	}

	// --- Snapshot storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "wire: s3 bucket not reachable, snapshots will retry on upload",
				slog.String("bucket", s3Client.Bucket()),
				slog.String("error", err.Error()),
			)
		}
		deps.Blobs = s3blob.NewWriter(s3Client, int64(cfg.S3.PartSizeMB)*1024*1024)
	} else {
		deps.Blobs = memory.NewBlobStore()
	}

	// --- Broker ---
	resolved, err := broker.Resolve(brokerSettings(cfg), deps.RateLimiter, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: broker: %w", err))
	}
	deps.Broker = resolved.Broker
	deps.Simulated = resolved.Simulated
	if deps.QuoteCache != nil {
		deps.Broker.WithQuoteCache(deps.QuoteCache)
	}

	// --- Alerts ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, logger)
	deps.Dispatcher = notify.NewDispatcher(deps.Notifier, deps.SignalBus, deps.Audit, logger)
	deps.Alerts = notify.NewQueue(cfg.Engine.AlertQueueSize, logger)

	// --- Services ---
	lifecycle := service.NewLifecycle(deps.Trades, deps.Ledger, deps.Alerts, logger)
	deps.Execution = service.NewExecutionService(deps.Trades, deps.Broker, lifecycle, deps.Audit, logger)
	deps.Tracker = service.NewOrderTracker(deps.Trades, deps.Broker, lifecycle, logger)
	deps.Reconcile = service.NewPositionService(deps.Portfolios, deps.Positions, deps.Trades, deps.Broker, deps.Alerts, deps.Audit, logger)
	deps.Snapshots = service.NewSnapshotService(deps.Portfolios, deps.Positions, deps.Trades, deps.Blobs, deps.Audit, logger)

	history := service.NewPriceHistory(deps.Broker, deps.Bars, logger)
	risk := service.NewRiskService(deps.Portfolios, deps.Positions, deps.Broker, deps.Alerts, logger)
	evaluator := strategy.NewEvaluator(strategy.DefaultRegistry).WithThreshold(cfg.Engine.SignalThreshold)
	deps.Runner = service.NewStrategyService(
		deps.Strategies, deps.Portfolios, history, evaluator, risk, deps.Execution,
		deps.Broker, deps.Alerts,
		service.RunnerConfig{BarLimit: cfg.Engine.BarLimit, LockTTL: cfg.Engine.LockTTL.Duration},
		logger,
	)
	if deps.Locks != nil {
		deps.Runner.WithLocks(deps.Locks)
	}

	if err := seed(ctx, deps, cfg, logger); err != nil {
		return fail(err)
	}
	if err := deps.Reconcile.CheckAccount(ctx); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	return deps, cleanup, nil
}

func brokerSettings(cfg *config.Config) broker.Settings {
	b := cfg.Broker
	return broker.Settings{
		Provider: broker.Provider(b.Provider),
		Alpaca: broker.AlpacaConfig{
			APIKey:     b.APIKey,
			APISecret:  b.APISecret,
			TradingURL: b.TradingURL,
			DataURL:    b.DataURL,
			Feed:       b.Feed,
			RetryLimit: b.ReadRetries,
		},
		CredentialsPath:     b.CredentialsPath,
		CredentialsPassword: b.CredentialsPassword,
		Resilience: broker.ResilientConfig{
			Timeout:      b.Timeout.Duration,
			ReadRetries:  b.ReadRetries,
			RetryBackoff: b.RetryBackoff.Duration,
			QuoteTTL:     b.QuoteTTL.Duration,
		},
	}
}

func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}

// seed creates configured portfolios that do not exist yet and upserts
// configured strategies. Existing portfolios keep their ledger.
func seed(ctx context.Context, deps *Dependencies, cfg *config.Config, logger *slog.Logger) error {
	for _, ps := range cfg.Portfolios {
		pf, err := ps.Portfolio()
		if err != nil {
			return fmt.Errorf("wire: seed: %w", err)
		}
		err = deps.Portfolios.Create(ctx, pf)
		switch {
		case errors.Is(err, domain.ErrConflict):
			logger.DebugContext(ctx, "wire: portfolio exists, keeping stored ledger", slog.String("portfolio_id", pf.ID))
		case err != nil:
			return fmt.Errorf("wire: seed portfolio %s: %w", pf.ID, err)
		default:
			logger.InfoContext(ctx, "wire: portfolio created",
				slog.String("portfolio_id", pf.ID),
				slog.String("cash", pf.CashBalance.StringFixed(2)),
			)
		}
	}
	for _, ss := range cfg.Strategies {
		s, err := ss.Strategy()
		if err != nil {
			return fmt.Errorf("wire: seed: %w", err)
		}
		if err := deps.Strategies.Upsert(ctx, s); err != nil {
			return fmt.Errorf("wire: seed strategy %s: %w", s.ID, err)
		}
	}
	return nil
}
