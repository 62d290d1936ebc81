package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Settle computes the ledger effect of a cumulative fill on trade t. It
// returns the fill result and the updated portfolio; stores persist both
// atomically. Cash moves by the incremental notional only, so repeated
// partial fills never double count.
func Settle(t Trade, p Portfolio, pos *Position, f Fill) (FillResult, Portfolio, error) {
	if !f.Status.IsFill() {
		return FillResult{}, p, fmt.Errorf("settle %s: status %s is not a fill: %w", t.ID, f.Status, ErrInvalidTransition)
	}
	if !CanTransition(t.Status, f.Status) {
		return FillResult{}, p, fmt.Errorf("settle %s: %s -> %s: %w", t.ID, t.Status, f.Status, ErrInvalidTransition)
	}
	delta := t.Delta(f)
	if t.Status == f.Status && !delta.Quantity.IsPositive() {
		return FillResult{}, p, fmt.Errorf("settle %s: no new quantity: %w", t.ID, ErrInvalidTransition)
	}

	next, realized, oversold := ApplyFill(pos, t.PortfolioID, t.Symbol, t.Side, delta.Quantity, delta.Price, f.At)

	p.CashBalance = p.CashBalance.Sub(t.Side.Sign().Mul(delta.Notional))
	if !realized.IsZero() {
		p.BookRealized(realized, TradingDay(f.At))
	}
	p.UpdatedAt = f.At

	t.Status = f.Status
	if delta.Quantity.IsPositive() {
		t.FilledQuantity = f.Quantity
		t.FilledAvgPrice = f.AvgPrice
	}
	if f.Status == StatusFilled {
		at := f.At
		t.ExecutedAt = &at
	}
	t.UpdatedAt = f.At

	return FillResult{
		Trade:       t,
		Delta:       delta,
		Position:    next,
		RealizedPnL: realized,
		CashBalance: p.CashBalance,
		Oversold:    oversold,
	}, p, nil
}

// RoundShares truncates a share count to a whole number.
func RoundShares(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(0)
}
