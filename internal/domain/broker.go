package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is what the engine asks the broker to place. ClientOrderID is
// the idempotency key; the engine always sets it to the Trade ID.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	StopPrice     decimal.Decimal
}

// MarketOrder builds a market order request.
func MarketOrder(clientID, symbol string, side OrderSide, qty decimal.Decimal) OrderRequest {
	return OrderRequest{ClientOrderID: clientID, Symbol: symbol, Side: side, Type: OrderTypeMarket, Quantity: qty}
}

// LimitOrder builds a limit order request.
func LimitOrder(clientID, symbol string, side OrderSide, qty, limit decimal.Decimal) OrderRequest {
	return OrderRequest{ClientOrderID: clientID, Symbol: symbol, Side: side, Type: OrderTypeLimit, Quantity: qty, LimitPrice: limit}
}

// StopOrder builds a stop order request.
func StopOrder(clientID, symbol string, side OrderSide, qty, stop decimal.Decimal) OrderRequest {
	return OrderRequest{ClientOrderID: clientID, Symbol: symbol, Side: side, Type: OrderTypeStop, Quantity: qty, StopPrice: stop}
}

// Validate rejects requests that can never be accepted.
func (r OrderRequest) Validate() error {
	var problems []string
	if r.Symbol == "" {
		problems = append(problems, "symbol must not be empty")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		problems = append(problems, "side must be BUY or SELL")
	}
	if !r.Quantity.IsPositive() {
		problems = append(problems, "quantity must be > 0")
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !r.LimitPrice.IsPositive() {
			problems = append(problems, "limit price must be > 0")
		}
	case OrderTypeStop:
		if !r.StopPrice.IsPositive() {
			problems = append(problems, "stop price must be > 0")
		}
	default:
		problems = append(problems, "unknown order type "+string(r.Type))
	}
	if len(problems) > 0 {
		return NewValidationError("order", problems...)
	}
	return nil
}

// BrokerOrder is the broker's view of an order.
type BrokerOrder struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Quantity       decimal.Decimal
	RawStatus      string
	Status         TradeStatus
	FilledQuantity decimal.Decimal
	FilledAvgPrice decimal.Decimal
	FilledAt       *time.Time
	UpdatedAt      time.Time
}

// Fill converts the broker's execution report into a cumulative Fill.
func (o BrokerOrder) Fill() Fill {
	at := o.UpdatedAt
	if o.FilledAt != nil {
		at = *o.FilledAt
	}
	return Fill{Status: o.Status, Quantity: o.FilledQuantity, AvgPrice: o.FilledAvgPrice, At: at}
}

// BrokerPosition is a holding as reported by the broker.
type BrokerPosition struct {
	Symbol       string
	Quantity     decimal.Decimal
	AvgPrice     decimal.Decimal
	CurrentPrice decimal.Decimal
}

// Broker is the order execution gateway. Implementations surface transport
// failures and non-2xx responses as *ExternalServiceError.
type Broker interface {
	Name() string
	SubmitOrder(ctx context.Context, req OrderRequest) (BrokerOrder, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrder(ctx context.Context, brokerOrderID string) (BrokerOrder, error)
	GetOrderByClientID(ctx context.Context, clientOrderID string) (BrokerOrder, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetPosition(ctx context.Context, symbol string) (BrokerPosition, error)
	GetLatestQuote(ctx context.Context, symbol string) (Quote, error)
	IsMarketOpen(ctx context.Context) (bool, error)
}

// BarFeed supplies historical daily bars.
type BarFeed interface {
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]PriceBar, error)
}
