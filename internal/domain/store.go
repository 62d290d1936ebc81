package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PortfolioStore persists portfolios.
type PortfolioStore interface {
	Create(ctx context.Context, p Portfolio) error
	GetByID(ctx context.Context, id string) (Portfolio, error)
	List(ctx context.Context) ([]Portfolio, error)
	// TripCircuitBreaker marks the daily-loss breaker as tripped for day.
	// It returns false when the breaker was already tripped for that day.
	TripCircuitBreaker(ctx context.Context, id, day string) (bool, error)
}

// PositionStore persists open positions, unique per (portfolio, symbol).
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Get(ctx context.Context, portfolioID, symbol string) (Position, error)
	ListByPortfolio(ctx context.Context, portfolioID string) ([]Position, error)
	Delete(ctx context.Context, portfolioID, symbol string) error
}

// TradeUpdate carries the optional fields written alongside a status change.
type TradeUpdate struct {
	BrokerOrderID string
	Reason        string
	SubmittedAt   *time.Time
}

// TradeStore persists trades.
type TradeStore interface {
	// CreateIfNoneInFlight inserts t unless another non-terminal trade exists
	// for the same (portfolio, symbol, strategy). The check and insert are one
	// atomic step; a duplicate yields ErrConflict.
	CreateIfNoneInFlight(ctx context.Context, t Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// Transition moves a trade from -> to only if it is still in from.
	// A lost race yields ErrConflict, an illegal edge ErrInvalidTransition.
	Transition(ctx context.Context, id string, from, to TradeStatus, upd TradeUpdate) (Trade, error)
	ListInFlight(ctx context.Context) ([]Trade, error)
	ListByPortfolio(ctx context.Context, portfolioID string, opts ListOpts) ([]Trade, error)
}

// LedgerStore applies a fill as one atomic unit: trade status and fill
// fields, portfolio cash and daily realized P&L, and the position.
type LedgerStore interface {
	ApplyFill(ctx context.Context, tradeID string, from TradeStatus, fill Fill) (FillResult, error)
}

// StrategyStore persists strategy definitions.
type StrategyStore interface {
	Upsert(ctx context.Context, s Strategy) error
	GetByID(ctx context.Context, id string) (Strategy, error)
	ListEnabled(ctx context.Context) ([]Strategy, error)
}

// BarStore is an append-only history of price bars per symbol.
type BarStore interface {
	// Append stores bars, ignoring ones already present for (symbol, timestamp).
	Append(ctx context.Context, bars []PriceBar) (int, error)
	// Latest returns up to limit most recent bars in ascending time order.
	Latest(ctx context.Context, symbol string, limit int) ([]PriceBar, error)
}
