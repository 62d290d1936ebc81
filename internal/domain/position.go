package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding for (portfolio, symbol). Quantity is always
// positive; a position that reaches zero is deleted. CostBasis always equals
// AveragePrice * Quantity.
type Position struct {
	PortfolioID   string
	Symbol        string
	Quantity      decimal.Decimal
	AveragePrice  decimal.Decimal
	CurrentPrice  decimal.Decimal
	CostBasis     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	OpenedAt      time.Time
	UpdatedAt     time.Time
}

// MarkPrice is the current price, or the average price when no mark exists.
func (p Position) MarkPrice() decimal.Decimal {
	if p.CurrentPrice.IsPositive() {
		return p.CurrentPrice
	}
	return p.AveragePrice
}

// MarketValue is quantity at the mark price.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarkPrice())
}

// PnLPercent is the unrealized gain or loss at price, in whole percent.
func (p Position) PnLPercent(price decimal.Decimal) float64 {
	if !p.AveragePrice.IsPositive() {
		return 0
	}
	pct, _ := price.Sub(p.AveragePrice).Div(p.AveragePrice).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Mark refreshes CurrentPrice and UnrealizedPnL.
func (p *Position) Mark(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.AveragePrice).Mul(p.Quantity)
	p.UpdatedAt = at
}

// Reset overwrites quantity and average price, keeping the cost basis and
// unrealized P&L consistent.
func (p *Position) Reset(qty, avg decimal.Decimal, at time.Time) {
	p.Quantity = qty
	p.AveragePrice = avg
	p.CostBasis = avg.Mul(qty)
	p.Mark(p.MarkPrice(), at)
}

// ApplyFill folds an executed quantity into pos and returns the next state.
// A BUY moves the average price to the volume-weighted average; a SELL realizes
// (price - average) * quantity and reduces the holding. next is nil once the
// position is closed. Sell quantity beyond the holding is returned as oversold
// and does not realize P&L.
func ApplyFill(pos *Position, portfolioID, symbol string, side OrderSide, qty, price decimal.Decimal, at time.Time) (next *Position, realized, oversold decimal.Decimal) {
	realized, oversold = decimal.Zero, decimal.Zero
	if !qty.IsPositive() {
		return pos, realized, oversold
	}

	switch side {
	case SideBuy:
		if pos == nil {
			p := Position{
				PortfolioID:  portfolioID,
				Symbol:       symbol,
				Quantity:     qty,
				AveragePrice: price,
				CurrentPrice: price,
				OpenedAt:     at,
			}
			p.Reset(qty, price, at)
			return &p, realized, oversold
		}
		p := *pos
		total := p.Quantity.Add(qty)
		avg := p.Quantity.Mul(p.AveragePrice).Add(qty.Mul(price)).Div(total)
		p.Reset(total, avg, at)
		return &p, realized, oversold

	case SideSell:
		if pos == nil {
			return nil, realized, qty
		}
		p := *pos
		sold := decimal.Min(qty, p.Quantity)
		oversold = qty.Sub(sold)
		realized = price.Sub(p.AveragePrice).Mul(sold)
		remaining := p.Quantity.Sub(sold)
		if !remaining.IsPositive() {
			return nil, realized, oversold
		}
		p.Reset(remaining, p.AveragePrice, at)
		return &p, realized, oversold
	}
	return pos, realized, oversold
}
