package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Job is one unit of scheduled work.
type Job string

const (
	JobEvaluate Job = "evaluate"
	JobPoll     Job = "poll"
	JobSync     Job = "sync"
	JobSnapshot Job = "snapshot"
)

// RunJob runs job once and then delivers every alert it raised.
func (a *App) RunJob(ctx context.Context, deps *Dependencies, job Job) error {
	err := a.runJob(ctx, deps, job)
	deps.Alerts.Drain(deps.Dispatcher)
	return err
}

func (a *App) runJob(ctx context.Context, deps *Dependencies, job Job) error {
	switch job {
	case JobEvaluate:
		return a.evaluate(ctx, deps)
	case JobPoll:
		return a.poll(ctx, deps)
	case JobSync:
		return a.sync(ctx, deps)
	case JobSnapshot:
		return a.snapshot(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported job %q", job)
	}
}

// evaluate runs every enabled strategy. With market_hours_only set it does
// nothing while the market is closed.
func (a *App) evaluate(ctx context.Context, deps *Dependencies) error {
	if a.cfg.Schedule.MarketHoursOnly {
		open, err := deps.Broker.IsMarketOpen(ctx)
		if err != nil {
			return fmt.Errorf("app: evaluate: market clock: %w", err)
		}
		if !open {
			a.logger.InfoContext(ctx, "app: evaluate: market closed, skipping")
			return nil
		}
	}

	sums, err := deps.Runner.RunAll(ctx)
	for _, s := range sums {
		a.logger.InfoContext(ctx, "app: strategy evaluated",
			slog.String("strategy_id", s.StrategyID),
			slog.Bool("skipped", s.Skipped),
			slog.Int("symbols", s.Symbols),
			slog.Int("signals", s.Signals),
			slog.Int("orders", s.Orders),
			slog.Int("rejected", s.Rejected),
			slog.Int("exits", s.Exits),
			slog.Int("errors", s.Errors),
		)
	}
	if err != nil {
		return fmt.Errorf("app: evaluate: %w", err)
	}
	return nil
}

// poll advances every in-flight trade from broker order state.
func (a *App) poll(ctx context.Context, deps *Dependencies) error {
	sum, err := deps.Tracker.Poll(ctx)
	a.logger.InfoContext(ctx, "app: orders polled",
		slog.Int("checked", sum.Checked),
		slog.Int("advanced", sum.Advanced),
		slog.Int("adopted", sum.Adopted),
		slog.Int("resubmitted", sum.Resubmitted),
		slog.Int("failed", sum.Failed),
	)
	if err != nil {
		return fmt.Errorf("app: poll: %w", err)
	}
	return nil
}

// sync reconciles positions with the broker and then re-marks them.
func (a *App) sync(ctx context.Context, deps *Dependencies) error {
	var errs []error

	sums, err := deps.Reconcile.SyncAll(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, s := range sums {
		a.logger.InfoContext(ctx, "app: positions synced",
			slog.String("portfolio_id", s.PortfolioID),
			slog.Int("matched", s.Matched),
			slog.Int("mismatches", s.Mismatches()),
		)
		marked, err := deps.Reconcile.MarkToMarket(ctx, s.PortfolioID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.logger.DebugContext(ctx, "app: positions marked",
			slog.String("portfolio_id", s.PortfolioID),
			slog.Int("positions", marked),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("app: sync: %w", err)
	}
	return nil
}

// snapshot archives today's state of every portfolio.
func (a *App) snapshot(ctx context.Context, deps *Dependencies) error {
	paths, err := deps.Snapshots.SnapshotAll(ctx, "")
	a.logger.InfoContext(ctx, "app: snapshots written", slog.Int("count", len(paths)))
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}
	return nil
}

// Daemon runs the alert queue and every job on its schedule until ctx is
// cancelled. A failing job is logged and retried on its next tick.
func (a *App) Daemon(ctx context.Context, deps *Dependencies) error {
	hour, minute, err := a.cfg.SnapshotClock()
	if err != nil {
		return fmt.Errorf("app: daemon: %w", err)
	}
	a.logger.InfoContext(ctx, "app: daemon started",
		slog.Duration("evaluate_interval", a.cfg.Schedule.EvaluateInterval.Duration),
		slog.Duration("poll_interval", a.cfg.Schedule.PollInterval.Duration),
		slog.Duration("sync_interval", a.cfg.Schedule.SyncInterval.Duration),
		slog.String("snapshot_time", a.cfg.Schedule.SnapshotTime),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Alerts.Run(ctx, deps.Dispatcher)
	})
	for _, s := range []struct {
		job      Job
		interval time.Duration
	}{
		{JobPoll, a.cfg.Schedule.PollInterval.Duration},
		{JobSync, a.cfg.Schedule.SyncInterval.Duration},
		{JobEvaluate, a.cfg.Schedule.EvaluateInterval.Duration},
	} {
		s := s
		g.Go(func() error {
			a.every(ctx, s.interval, func() { a.logJob(ctx, s.job, a.runJob(ctx, deps, s.job)) })
			return nil
		})
	}
	g.Go(func() error {
		a.daily(ctx, hour, minute, func() { a.logJob(ctx, JobSnapshot, a.runJob(ctx, deps, JobSnapshot)) })
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("app: daemon stopped")
	return nil
}

func (a *App) logJob(ctx context.Context, job Job, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	a.logger.ErrorContext(ctx, "app: job failed",
		slog.String("job", string(job)),
		slog.String("error", err.Error()),
	)
}

// every calls fn immediately and then on each tick until ctx is done.
func (a *App) every(ctx context.Context, interval time.Duration, fn func()) {
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// daily calls fn at hour:minute exchange time on each weekday until ctx is
// done.
func (a *App) daily(ctx context.Context, hour, minute int, fn func()) {
	for {
		next := nextWeekdayAt(time.Now(), hour, minute)
		a.logger.DebugContext(ctx, "app: next snapshot scheduled", slog.Time("at", next))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn()
		}
	}
}

// nextWeekdayAt returns the first weekday instant strictly after now at
// hour:minute in exchange time.
func nextWeekdayAt(now time.Time, hour, minute int) time.Time {
	loc := domain.MarketLocation()
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for !next.After(local) || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
