package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
	"github.com/alanyoungcy/equitybot/internal/strategy"
)

// RunnerConfig tunes the strategy runner.
type RunnerConfig struct {
	BarLimit int
	LockTTL  time.Duration
}

// RunSummary counts what one strategy run did.
type RunSummary struct {
	StrategyID string
	Skipped    bool
	Symbols    int
	Signals    int
	Orders     int
	Rejected   int
	Exits      int
	Errors     int
}

// StrategyService runs strategies end to end: exits first, then for each
// universe symbol bars, signal, risk check and execution.
type StrategyService struct {
	strategies domain.StrategyStore
	portfolios domain.PortfolioStore
	history    *PriceHistory
	evaluator  *strategy.Evaluator
	risk       *RiskService
	exec       *ExecutionService
	quotes     Quoter
	locks      domain.LockManager
	alerts     domain.AlertSink
	cfg        RunnerConfig
	now        func() time.Time
	logger     *slog.Logger
}

// NewStrategyService creates a StrategyService.
func NewStrategyService(
	strategies domain.StrategyStore,
	portfolios domain.PortfolioStore,
	history *PriceHistory,
	evaluator *strategy.Evaluator,
	risk *RiskService,
	exec *ExecutionService,
	quotes Quoter,
	alerts domain.AlertSink,
	cfg RunnerConfig,
	logger *slog.Logger,
) *StrategyService {
	if cfg.BarLimit <= 0 {
		cfg.BarLimit = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &StrategyService{
		strategies: strategies,
		portfolios: portfolios,
		history:    history,
		evaluator:  evaluator,
		risk:       risk,
		exec:       exec,
		quotes:     quotes,
		alerts:     alerts,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "strategy_service")),
	}
}

// WithLocks guards each run with a distributed per-strategy lock so that
// overlapping invocations of the same strategy do not both trade.
func (s *StrategyService) WithLocks(locks domain.LockManager) *StrategyService {
	s.locks = locks
	return s
}

// Run evaluates one strategy. Per-symbol failures raise strategyError alerts
// and are counted; they never abort the run.
func (s *StrategyService) Run(ctx context.Context, strategyID string) (RunSummary, error) {
	sum := RunSummary{StrategyID: strategyID}

	strat, err := s.strategies.GetByID(ctx, strategyID)
	if err != nil {
		return sum, fmt.Errorf("strategy_service: get strategy: %w", err)
	}
	if !strat.Enabled {
		sum.Skipped = true
		return sum, nil
	}
	if err := strat.Validate(); err != nil {
		s.strategyError(ctx, strat, "", err)
		return sum, fmt.Errorf("strategy_service: %s: %w", strat.ID, err)
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "strategy:"+strat.ID, s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.InfoContext(ctx, "strategy_service: run already in progress",
				slog.String("strategy_id", strat.ID),
			)
			sum.Skipped = true
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("strategy_service: acquire lock: %w", err)
		}
		defer unlock()
	}

	pf, err := s.portfolios.GetByID(ctx, strat.PortfolioID)
	if err != nil {
		return sum, fmt.Errorf("strategy_service: get portfolio: %w", err)
	}

	exits, err := s.risk.CheckExits(ctx, strat, pf)
	if err != nil {
		s.strategyError(ctx, strat, "", err)
		sum.Errors++
	}
	// Symbols exited here are not bought back in the same run.
	exited := make(map[string]bool, len(exits))
	for _, exit := range exits {
		exited[exit.Symbol] = true
		_, err := s.exec.Execute(ctx, OrderIntent{
			PortfolioID:    pf.ID,
			StrategyID:     strat.ID,
			Symbol:         exit.Symbol,
			Side:           domain.SideSell,
			Type:           domain.OrderTypeMarket,
			Quantity:       exit.Quantity,
			ReferencePrice: exit.Price,
			Reason:         exit.Reason,
		})
		if s.countExecution(ctx, strat, exit.Symbol, err, &sum) {
			sum.Exits++
		}
	}

	for _, symbol := range strat.Universe {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Symbols++
		if err := s.runSymbol(ctx, strat, symbol, exited[symbol], &sum); err != nil {
			sum.Errors++
			s.strategyError(ctx, strat, symbol, err)
		}
	}

	s.logger.InfoContext(ctx, "strategy_service: run complete",
		slog.String("strategy_id", strat.ID),
		slog.Int("symbols", sum.Symbols),
		slog.Int("signals", sum.Signals),
		slog.Int("orders", sum.Orders),
		slog.Int("rejected", sum.Rejected),
		slog.Int("exits", sum.Exits),
		slog.Int("errors", sum.Errors),
	)
	return sum, nil
}

func (s *StrategyService) runSymbol(ctx context.Context, strat domain.Strategy, symbol string, exited bool, sum *RunSummary) error {
	bars, err := s.history.Bars(ctx, symbol, s.cfg.BarLimit)
	if err != nil {
		return err
	}
	sig := s.evaluator.Evaluate(strat, symbol, bars)
	s.logger.DebugContext(ctx, "strategy_service: signal",
		slog.String("strategy_id", strat.ID),
		slog.String("symbol", symbol),
		slog.String("type", string(sig.Type)),
		slog.Float64("composite", sig.Composite),
		slog.Int("factors", len(sig.Factors)),
	)
	if !sig.Actionable() {
		return nil
	}
	sum.Signals++

	q, err := s.quotes.GetLatestQuote(ctx, symbol)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	if q.Mid() <= 0 {
		return fmt.Errorf("quote: no price for %s", symbol)
	}
	price := decimal.NewFromFloat(q.Mid()).Round(4)

	// Reload so cash reflects fills from earlier symbols in this run.
	pf, err := s.portfolios.GetByID(ctx, strat.PortfolioID)
	if err != nil {
		return fmt.Errorf("portfolio: %w", err)
	}
	if exited && sig.Type == domain.SignalBuy {
		s.risk.reject(ctx, strat, pf, symbol, domain.SideBuy, price, domain.ReasonExitedThisRun, nil)
		sum.Rejected++
		return nil
	}
	decision, err := s.risk.Assess(ctx, strat, pf, sig, price)
	if err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if !decision.Approved {
		sum.Rejected++
		return nil
	}

	_, err = s.exec.Execute(ctx, OrderIntent{
		PortfolioID:    pf.ID,
		StrategyID:     strat.ID,
		Symbol:         symbol,
		Side:           decision.Side,
		Type:           domain.OrderTypeMarket,
		Quantity:       decision.Quantity,
		ReferencePrice: decision.Price,
		Signal:         &sig,
		Reason:         "signal " + string(sig.Type),
	})
	s.countExecution(ctx, strat, symbol, err, sum)
	return nil
}

// countExecution classifies an Execute result. A duplicate in-flight trade
// is a no-op and a broker refusal has already raised tradeFailed; anything
// else is a strategy error. It reports whether an order was placed.
func (s *StrategyService) countExecution(ctx context.Context, strat domain.Strategy, symbol string, err error, sum *RunSummary) bool {
	switch {
	case err == nil:
		sum.Orders++
		return true
	case errors.Is(err, domain.ErrConflict):
		s.logger.DebugContext(ctx, "strategy_service: trade already in flight",
			slog.String("strategy_id", strat.ID),
			slog.String("symbol", symbol),
		)
	case domain.IsRejection(err):
		sum.Rejected++
	default:
		sum.Errors++
		s.strategyError(ctx, strat, symbol, err)
	}
	return false
}

// RunAll runs every enabled strategy in turn and returns their summaries. A
// strategy that fails to run is reported in the joined error.
func (s *StrategyService) RunAll(ctx context.Context) ([]RunSummary, error) {
	strats, err := s.strategies.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("strategy_service: list strategies: %w", err)
	}
	var (
		out  []RunSummary
		errs []error
	)
	for _, strat := range strats {
		sum, err := s.Run(ctx, strat.ID)
		out = append(out, sum)
		if err != nil {
			s.logger.ErrorContext(ctx, "strategy_service: run failed",
				slog.String("strategy_id", strat.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

func (s *StrategyService) strategyError(ctx context.Context, strat domain.Strategy, symbol string, err error) {
	s.logger.WarnContext(ctx, "strategy_service: strategy error",
		slog.String("strategy_id", strat.ID),
		slog.String("symbol", symbol),
		slog.String("error", err.Error()),
	)
	s.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertStrategyError,
		PortfolioID: strat.PortfolioID,
		StrategyID:  strat.ID,
		Symbol:      symbol,
		Reason:      domain.ReasonStrategyError,
		Detail:      map[string]any{"error": err.Error()},
		At:          s.now().UTC(),
	})
}
