package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// OrderType selects how the order is priced at the broker.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// TradeStatus is the canonical order lifecycle state.
type TradeStatus string

const (
	StatusPending         TradeStatus = "PENDING"
	StatusSubmitted       TradeStatus = "SUBMITTED"
	StatusPartiallyFilled TradeStatus = "PARTIALLY_FILLED"
	StatusFilled          TradeStatus = "FILLED"
	StatusCancelled       TradeStatus = "CANCELLED"
	StatusRejected        TradeStatus = "REJECTED"
)

// InFlightStatuses are the non-terminal states. At most one trade per
// (portfolio, symbol, strategy) may be in one of them.
var InFlightStatuses = []TradeStatus{StatusPending, StatusSubmitted, StatusPartiallyFilled}

var transitions = map[TradeStatus]map[TradeStatus]bool{
	StatusPending: {
		StatusSubmitted: true,
		StatusRejected:  true,
		StatusCancelled: true,
	},
	StatusSubmitted: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
		StatusRejected:        true,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCancelled:       true,
	},
}

// Terminal reports whether no further transition is permitted.
func (s TradeStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// IsFill reports whether the status carries executed quantity.
func (s TradeStatus) IsFill() bool {
	return s == StatusFilled || s == StatusPartiallyFilled
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// PARTIALLY_FILLED -> PARTIALLY_FILLED is allowed for additional quantity.
func CanTransition(from, to TradeStatus) bool {
	return transitions[from][to]
}

// Trade is an order the engine has accepted, from PENDING to a terminal state.
// ID doubles as the client order id sent to the broker.
type Trade struct {
	ID             string
	PortfolioID    string
	StrategyID     string // empty for manual trades
	Symbol         string
	Side           OrderSide
	Quantity       decimal.Decimal
	Price          decimal.Decimal // reference or limit price
	StopPrice      decimal.Decimal
	OrderType      OrderType
	Status         TradeStatus
	BrokerOrderID  string
	FilledQuantity decimal.Decimal
	FilledAvgPrice decimal.Decimal
	Signal         *Signal
	Reason         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	SubmittedAt    *time.Time
	ExecutedAt     *time.Time
}

// FilledNotional is the cash value of everything executed so far.
func (t Trade) FilledNotional() decimal.Decimal {
	return t.FilledQuantity.Mul(t.FilledAvgPrice)
}

// Fill is a cumulative execution report for a trade: total filled quantity
// and the average price over all of it.
type Fill struct {
	Status   TradeStatus
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
	At       time.Time
}

// FillDelta is the increment between the trade's recorded fills and a newer
// cumulative report.
type FillDelta struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Notional decimal.Decimal
}

// Delta computes what a cumulative fill adds on top of the trade's recorded
// execution. The incremental price is derived from the notional difference.
func (t Trade) Delta(f Fill) FillDelta {
	qty := f.Quantity.Sub(t.FilledQuantity)
	if !qty.IsPositive() {
		return FillDelta{Quantity: decimal.Zero, Price: decimal.Zero, Notional: decimal.Zero}
	}
	notional := f.Quantity.Mul(f.AvgPrice).Sub(t.FilledNotional())
	return FillDelta{Quantity: qty, Price: notional.Div(qty), Notional: notional}
}

// FillResult describes what applying a fill changed in the ledger.
type FillResult struct {
	Trade       Trade
	Delta       FillDelta
	Position    *Position // nil when the position was closed
	RealizedPnL decimal.Decimal
	CashBalance decimal.Decimal
	Oversold    decimal.Decimal // sell quantity beyond the held position
}
