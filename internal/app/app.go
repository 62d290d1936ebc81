// Package app wires the equitybot dependency graph and runs it either as a
// single job (evaluate, poll, sync, snapshot) or as a daemon that schedules
// all of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/equitybot/internal/config"
)

// App is the root application object. It owns the configuration, the logger
// and cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from cfg.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and runs the configured mode. One-shot modes
// return when their job is done; daemon mode blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", mode),
		slog.String("store", a.cfg.Store),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.logger.InfoContext(ctx, "app: broker ready",
		slog.String("broker", deps.Broker.Name()),
		slog.Bool("notifications", deps.Notifier.Enabled()),
		slog.Bool("redis", deps.SignalBus != nil),
	)

	if mode == "daemon" {
		return a.Daemon(ctx, deps)
	}
	return a.RunJob(ctx, deps, Job(mode))
}

// Close tears down all resources in reverse registration order. It is safe to
// call more than once.
func (a *App) Close() {
	a.logger.Info("app: shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
