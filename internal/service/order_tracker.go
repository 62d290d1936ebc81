package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// PollSummary counts what one tracker pass did.
type PollSummary struct {
	Checked     int
	Advanced    int
	Adopted     int
	Resubmitted int
	Failed      int
}

// OrderTracker reconciles in-flight trades with the broker. It never creates
// orders; a PENDING trade the broker has not seen is resubmitted under its
// own client order id.
type OrderTracker struct {
	trades    domain.TradeStore
	broker    domain.Broker
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// NewOrderTracker creates an OrderTracker.
func NewOrderTracker(trades domain.TradeStore, broker domain.Broker, lifecycle *Lifecycle, logger *slog.Logger) *OrderTracker {
	return &OrderTracker{
		trades:    trades,
		broker:    broker,
		lifecycle: lifecycle,
		logger:    logger.With(slog.String("component", "order_tracker")),
	}
}

// Poll checks every in-flight trade once. A failure on one trade is counted
// and logged without stopping the pass.
func (t *OrderTracker) Poll(ctx context.Context) (PollSummary, error) {
	var sum PollSummary
	inflight, err := t.trades.ListInFlight(ctx)
	if err != nil {
		return sum, fmt.Errorf("order_tracker: list in-flight: %w", err)
	}

	for _, tr := range inflight {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Checked++
		if err := t.track(ctx, tr, &sum); err != nil {
			sum.Failed++
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrConflict) {
				level = slog.LevelDebug
			}
			t.logger.Log(ctx, level, "order_tracker: trade check failed",
				slog.String("trade_id", tr.ID),
				slog.String("status", string(tr.Status)),
				slog.String("error", err.Error()),
			)
		}
	}

	if sum.Advanced > 0 || sum.Failed > 0 {
		t.logger.InfoContext(ctx, "order_tracker: poll complete",
			slog.Int("checked", sum.Checked),
			slog.Int("advanced", sum.Advanced),
			slog.Int("adopted", sum.Adopted),
			slog.Int("resubmitted", sum.Resubmitted),
			slog.Int("failed", sum.Failed),
		)
	}
	return sum, nil
}

func (t *OrderTracker) track(ctx context.Context, tr domain.Trade, sum *PollSummary) error {
	var (
		o   domain.BrokerOrder
		err error
	)
	if tr.BrokerOrderID == "" {
		o, err = t.broker.GetOrderByClientID(ctx, tr.ID)
		switch {
		case err == nil:
			sum.Adopted++
		case errors.Is(err, domain.ErrNotFound):
			o, err = t.broker.SubmitOrder(ctx, orderRequest(tr))
			if err != nil {
				if domain.IsRejection(err) {
					if _, rerr := t.lifecycle.Reject(ctx, tr, err); rerr != nil {
						return rerr
					}
					sum.Advanced++
					return nil
				}
				return fmt.Errorf("resubmit: %w", err)
			}
			sum.Resubmitted++
		default:
			return fmt.Errorf("lookup by client id: %w", err)
		}
	} else {
		o, err = t.broker.GetOrder(ctx, tr.BrokerOrderID)
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}
	}

	_, changed, err := t.lifecycle.Advance(ctx, tr, o)
	if err != nil {
		return err
	}
	if changed {
		sum.Advanced++
	}
	return nil
}
