package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Lifecycle moves trades forward along the order state graph to match the
// broker's view. It is shared by execution and the order tracker.
type Lifecycle struct {
	trades domain.TradeStore
	ledger domain.LedgerStore
	alerts domain.AlertSink
	now    func() time.Time
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(trades domain.TradeStore, ledger domain.LedgerStore, alerts domain.AlertSink, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		trades: trades,
		ledger: ledger,
		alerts: alerts,
		now:    time.Now,
		logger: logger.With(slog.String("component", "lifecycle")),
	}
}

// Advance applies the broker order o to trade t and reports whether anything
// changed. Mappings that would move the trade backwards are ignored. Fills go
// through the ledger so cash and the position move with the status.
func (l *Lifecycle) Advance(ctx context.Context, t domain.Trade, o domain.BrokerOrder) (domain.Trade, bool, error) {
	if t.Status.Terminal() {
		return t, false, nil
	}
	changed := false

	if t.Status == domain.StatusPending && o.ID != "" {
		at := l.now().UTC()
		next, err := l.trades.Transition(ctx, t.ID, domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{
			BrokerOrderID: o.ID,
			SubmittedAt:   &at,
		})
		if err != nil {
			return t, false, fmt.Errorf("lifecycle: submit %s: %w", t.ID, err)
		}
		t, changed = next, true
		l.logger.InfoContext(ctx, "lifecycle: trade submitted",
			slog.String("trade_id", t.ID),
			slog.String("broker_order_id", o.ID),
		)
	}

	switch target := o.Status; {
	case target.IsFill():
		next, filled, err := l.fill(ctx, t, o.Fill())
		if err != nil {
			return t, changed, err
		}
		return next, changed || filled, nil

	case target == domain.StatusCancelled || target == domain.StatusRejected:
		if o.FilledQuantity.GreaterThan(t.FilledQuantity) && t.Status != domain.StatusPending {
			// Quantity executed before the cancel landed.
			fill := o.Fill()
			fill.Status = domain.StatusPartiallyFilled
			next, _, err := l.fill(ctx, t, fill)
			if err != nil {
				return t, changed, err
			}
			t, changed = next, true
		}
		if !domain.CanTransition(t.Status, target) {
			l.logger.DebugContext(ctx, "lifecycle: ignoring transition",
				slog.String("trade_id", t.ID),
				slog.String("from", string(t.Status)),
				slog.String("to", string(target)),
			)
			return t, changed, nil
		}
		next, err := l.trades.Transition(ctx, t.ID, t.Status, target, domain.TradeUpdate{Reason: "broker status " + o.RawStatus})
		if err != nil {
			return t, changed, fmt.Errorf("lifecycle: %s %s: %w", target, t.ID, err)
		}
		l.failed(ctx, next, "broker status "+o.RawStatus)
		return next, true, nil

	default:
		return t, changed, nil
	}
}

func (l *Lifecycle) fill(ctx context.Context, t domain.Trade, f domain.Fill) (domain.Trade, bool, error) {
	if f.Status == t.Status && !f.Quantity.GreaterThan(t.FilledQuantity) {
		return t, false, nil
	}
	if !domain.CanTransition(t.Status, f.Status) {
		l.logger.DebugContext(ctx, "lifecycle: ignoring fill",
			slog.String("trade_id", t.ID),
			slog.String("from", string(t.Status)),
			slog.String("to", string(f.Status)),
		)
		return t, false, nil
	}
	if f.At.IsZero() {
		f.At = l.now().UTC()
	}

	res, err := l.ledger.ApplyFill(ctx, t.ID, t.Status, f)
	if err != nil {
		return t, false, fmt.Errorf("lifecycle: apply fill %s: %w", t.ID, err)
	}
	next := res.Trade

	l.logger.InfoContext(ctx, "lifecycle: fill applied",
		slog.String("trade_id", next.ID),
		slog.String("symbol", next.Symbol),
		slog.String("side", string(next.Side)),
		slog.String("status", string(next.Status)),
		slog.String("qty", res.Delta.Quantity.String()),
		slog.String("price", res.Delta.Price.StringFixed(4)),
		slog.String("cash", res.CashBalance.StringFixed(2)),
	)
	l.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertTradeExecuted,
		PortfolioID: next.PortfolioID,
		StrategyID:  next.StrategyID,
		TradeID:     next.ID,
		Symbol:      next.Symbol,
		Side:        next.Side,
		Quantity:    res.Delta.Quantity,
		Price:       res.Delta.Price,
		Reason:      next.Reason,
		Detail: map[string]any{
			"status":           string(next.Status),
			"filled_quantity":  next.FilledQuantity.String(),
			"filled_avg_price": next.FilledAvgPrice.String(),
			"realized_pnl":     res.RealizedPnL.StringFixed(2),
			"cash_balance":     res.CashBalance.StringFixed(2),
		},
		At: f.At,
	})
	if res.Oversold.IsPositive() {
		l.logger.WarnContext(ctx, "lifecycle: sell exceeded held quantity",
			slog.String("trade_id", next.ID),
			slog.String("oversold", res.Oversold.String()),
		)
		l.alerts.Emit(ctx, domain.Alert{
			Kind:        domain.AlertPositionMismatch,
			PortfolioID: next.PortfolioID,
			StrategyID:  next.StrategyID,
			TradeID:     next.ID,
			Symbol:      next.Symbol,
			Side:        next.Side,
			Quantity:    res.Oversold,
			Reason:      domain.ReasonOversold,
			At:          f.At,
		})
	}
	return next, true, nil
}

// Reject marks a PENDING trade REJECTED after a definitive broker refusal.
func (l *Lifecycle) Reject(ctx context.Context, t domain.Trade, cause error) (domain.Trade, error) {
	reason := cause.Error()
	next, err := l.trades.Transition(ctx, t.ID, t.Status, domain.StatusRejected, domain.TradeUpdate{Reason: reason})
	if err != nil {
		return t, fmt.Errorf("lifecycle: reject %s: %w", t.ID, err)
	}
	l.failed(ctx, next, reason)
	return next, nil
}

func (l *Lifecycle) failed(ctx context.Context, t domain.Trade, reason string) {
	l.logger.WarnContext(ctx, "lifecycle: trade failed",
		slog.String("trade_id", t.ID),
		slog.String("symbol", t.Symbol),
		slog.String("status", string(t.Status)),
		slog.String("reason", reason),
	)
	l.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertTradeFailed,
		PortfolioID: t.PortfolioID,
		StrategyID:  t.StrategyID,
		TradeID:     t.ID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Quantity:    t.Quantity,
		Price:       t.Price,
		Reason:      reason,
		Detail:      map[string]any{"status": string(t.Status)},
		At:          l.now().UTC(),
	})
}
