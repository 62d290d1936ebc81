package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

const alpacaName = "alpaca"

// AlpacaConfig holds Alpaca API credentials and endpoints.
type AlpacaConfig struct {
	APIKey     string
	APISecret  string
	TradingURL string
	DataURL    string
	Feed       string
	RetryLimit int
}

// Alpaca is the live broker backed by the Alpaca trading and market data
// APIs. The SDK does not take a context, so each call runs in a goroutine
// abandoned when ctx is done.
type Alpaca struct {
	trading *alpaca.Client
	data    *marketdata.Client
	feed    string
	logger  *slog.Logger
}

// NewAlpaca builds a live broker from cfg.
func NewAlpaca(cfg AlpacaConfig, logger *slog.Logger) *Alpaca {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		BaseURL:    cfg.TradingURL,
		RetryLimit: cfg.RetryLimit,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.DataURL,
	})
	return &Alpaca{
		trading: trading,
		data:    data,
		feed:    cfg.Feed,
		logger:  logger.With(slog.String("component", "alpaca_broker")),
	}
}

func (a *Alpaca) Name() string { return alpacaName }

// call runs fn and converts its error into the domain taxonomy.
func call[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, &domain.ExternalServiceError{Service: alpacaName, Op: op, Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return zero, translate(op, r.err)
		}
		return r.v, nil
	}
}

func translate(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return &domain.NotFoundError{Entity: op, ID: apiErr.Message}
		}
		return &domain.ExternalServiceError{Service: alpacaName, Op: op, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &domain.ExternalServiceError{Service: alpacaName, Op: op, Err: err}
}

func toAlpacaSide(s domain.OrderSide) alpaca.Side {
	if s == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func toAlpacaType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	default:
		return alpaca.Market
	}
}

func fromAlpacaOrder(o *alpaca.Order) domain.BrokerOrder {
	out := domain.BrokerOrder{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           domain.SideBuy,
		RawStatus:      o.Status,
		Status:         MapStatus(o.Status),
		FilledQuantity: o.FilledQty,
		FilledAvgPrice: decimal.Zero,
		FilledAt:       o.FilledAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if strings.EqualFold(string(o.Side), string(alpaca.Sell)) {
		out.Side = domain.SideSell
	}
	if o.Qty != nil {
		out.Quantity = *o.Qty
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = *o.FilledAvgPrice
	}
	return out
}

func fromAlpacaPosition(p alpaca.Position) domain.BrokerPosition {
	out := domain.BrokerPosition{
		Symbol:   p.Symbol,
		Quantity: p.Qty,
		AvgPrice: p.AvgEntryPrice,
	}
	if p.CurrentPrice != nil {
		out.CurrentPrice = *p.CurrentPrice
	}
	return out
}

// SubmitOrder places a day order. The client order id makes a resubmission
// after an ambiguous failure detectable through GetOrderByClientID.
func (a *Alpaca) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	if err := req.Validate(); err != nil {
		return domain.BrokerOrder{}, err
	}
	qty := req.Quantity
	place := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          toAlpacaSide(req.Side),
		Type:          toAlpacaType(req.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		limit := req.LimitPrice
		place.LimitPrice = &limit
	}
	if req.Type == domain.OrderTypeStop {
		stop := req.StopPrice
		place.StopPrice = &stop
	}

	o, err := call(ctx, "submit order", func() (*alpaca.Order, error) { return a.trading.PlaceOrder(place) })
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("alpaca: submit %s %s %s: %w", req.Side, req.Quantity, req.Symbol, err)
	}
	a.logger.InfoContext(ctx, "alpaca_broker: order placed",
		slog.String("order_id", o.ID),
		slog.String("client_order_id", o.ClientOrderID),
		slog.String("status", o.Status),
	)
	return fromAlpacaOrder(o), nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := call(ctx, "cancel order", func() (struct{}, error) { return struct{}{}, a.trading.CancelOrder(brokerOrderID) })
	if err != nil {
		return fmt.Errorf("alpaca: cancel %s: %w", brokerOrderID, err)
	}
	return nil
}

func (a *Alpaca) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	o, err := call(ctx, "get order", func() (*alpaca.Order, error) { return a.trading.GetOrder(brokerOrderID) })
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("alpaca: get order %s: %w", brokerOrderID, err)
	}
	return fromAlpacaOrder(o), nil
}

func (a *Alpaca) GetOrderByClientID(ctx context.Context, clientOrderID string) (domain.BrokerOrder, error) {
	o, err := call(ctx, "get order", func() (*alpaca.Order, error) { return a.trading.GetOrderByClientOrderID(clientOrderID) })
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("alpaca: get order by client id %s: %w", clientOrderID, err)
	}
	return fromAlpacaOrder(o), nil
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	ps, err := call(ctx, "get positions", a.trading.GetPositions)
	if err != nil {
		return nil, fmt.Errorf("alpaca: get positions: %w", err)
	}
	out := make([]domain.BrokerPosition, 0, len(ps))
	for _, p := range ps {
		out = append(out, fromAlpacaPosition(p))
	}
	return out, nil
}

func (a *Alpaca) GetPosition(ctx context.Context, symbol string) (domain.BrokerPosition, error) {
	p, err := call(ctx, "get position", func() (*alpaca.Position, error) { return a.trading.GetPosition(symbol) })
	if err != nil {
		return domain.BrokerPosition{}, fmt.Errorf("alpaca: get position %s: %w", symbol, err)
	}
	return fromAlpacaPosition(*p), nil
}

func (a *Alpaca) GetLatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := call(ctx, "get quote", func() (*marketdata.Quote, error) {
		return a.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{Feed: marketdata.Feed(a.feed)})
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("alpaca: latest quote %s: %w", symbol, err)
	}
	if q.BidPrice <= 0 && q.AskPrice <= 0 {
		return domain.Quote{}, &domain.ExternalServiceError{Service: alpacaName, Op: "get quote", Err: fmt.Errorf("no price for %s", symbol)}
	}
	return domain.Quote{Symbol: symbol, Bid: q.BidPrice, Ask: q.AskPrice, Timestamp: q.Timestamp.UTC()}, nil
}

func (a *Alpaca) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := call(ctx, "get clock", a.trading.GetClock)
	if err != nil {
		return false, fmt.Errorf("alpaca: clock: %w", err)
	}
	return clock.IsOpen, nil
}

// GetBars returns daily bars for symbol in [start, end].
func (a *Alpaca) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	bars, err := call(ctx, "get bars", func() ([]marketdata.Bar, error) {
		return a.data.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(a.feed),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca: bars %s: %w", symbol, err)
	}
	out := make([]domain.PriceBar, len(bars))
	for i, b := range bars {
		out[i] = domain.PriceBar{
			Symbol:    symbol,
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    float64(b.Volume),
		}
	}
	return out, nil
}

var (
	_ domain.Broker  = (*Alpaca)(nil)
	_ domain.BarFeed = (*Alpaca)(nil)
)
