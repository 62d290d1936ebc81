package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

const simulatedName = "simulated"

// halfSpread is the simulated half spread as a fraction of the base price.
const halfSpread = 0.0005

// Simulated is an in-process broker that derives prices from the symbol and
// fills every order immediately. It is deterministic for a given sequence of
// calls.
type Simulated struct {
	mu        sync.Mutex
	orders    map[string]domain.BrokerOrder
	byClient  map[string]string
	positions map[string]domain.BrokerPosition
	overrides map[string]float64
	seq       int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewSimulated creates an empty simulated broker.
func NewSimulated(logger *slog.Logger) *Simulated {
	return &Simulated{
		orders:    make(map[string]domain.BrokerOrder),
		byClient:  make(map[string]string),
		positions: make(map[string]domain.BrokerPosition),
		overrides: make(map[string]float64),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "simulated_broker")),
	}
}

// SetClock replaces the time source.
func (s *Simulated) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetPrice pins the mid price of symbol, overriding the derived one.
func (s *Simulated) SetPrice(symbol string, mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[symbol] = mid
}

// SetPosition seeds or replaces a broker-side holding. A zero quantity
// removes it.
func (s *Simulated) SetPosition(p domain.BrokerPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.Quantity.IsPositive() {
		delete(s.positions, p.Symbol)
		return
	}
	s.positions[p.Symbol] = p
}

func symbolHash(symbol string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return h.Sum32()
}

// BasePrice is the derived mid price for symbol, between 20 and 500.
func BasePrice(symbol string) float64 {
	return 20 + float64(symbolHash(symbol)%48000)/100
}

func cents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

func (s *Simulated) midLocked(symbol string) float64 {
	if p, ok := s.overrides[symbol]; ok {
		return p
	}
	return BasePrice(symbol)
}

func (s *Simulated) quoteLocked(symbol string) (bid, ask decimal.Decimal) {
	mid := s.midLocked(symbol)
	return cents(mid * (1 - halfSpread)), cents(mid * (1 + halfSpread))
}

func (s *Simulated) Name() string { return simulatedName }

func (s *Simulated) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	if err := req.Validate(); err != nil {
		return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: simulatedName, Op: "submit order", StatusCode: http.StatusUnprocessableEntity, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		return s.orders[id], nil
	}

	bid, ask := s.quoteLocked(req.Symbol)
	var price decimal.Decimal
	switch req.Type {
	case domain.OrderTypeLimit:
		price = req.LimitPrice
	case domain.OrderTypeStop:
		price = req.StopPrice
	default:
		price = ask
		if req.Side == domain.SideSell {
			price = bid
		}
	}

	now := s.now()
	s.seq++
	order := domain.BrokerOrder{
		ID:             fmt.Sprintf("sim-%06d", s.seq),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		RawStatus:      "filled",
		Status:         domain.StatusFilled,
		FilledQuantity: req.Quantity,
		FilledAvgPrice: price,
		FilledAt:       &now,
		UpdatedAt:      now,
	}
	s.orders[order.ID] = order
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = order.ID
	}
	s.applyLocked(order)

	s.logger.Debug("simulated_broker: order filled",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.String("qty", order.Quantity.String()),
		slog.String("price", price.String()),
	)
	return order, nil
}

func (s *Simulated) applyLocked(o domain.BrokerOrder) {
	pos, held := s.positions[o.Symbol]
	switch o.Side {
	case domain.SideBuy:
		if !held {
			pos = domain.BrokerPosition{Symbol: o.Symbol}
		}
		total := pos.Quantity.Add(o.FilledQuantity)
		pos.AvgPrice = pos.Quantity.Mul(pos.AvgPrice).Add(o.FilledQuantity.Mul(o.FilledAvgPrice)).Div(total)
		pos.Quantity = total
	case domain.SideSell:
		if !held {
			return
		}
		pos.Quantity = pos.Quantity.Sub(o.FilledQuantity)
	}
	if !pos.Quantity.IsPositive() {
		delete(s.positions, o.Symbol)
		return
	}
	pos.CurrentPrice = cents(s.midLocked(o.Symbol))
	s.positions[o.Symbol] = pos
}

func (s *Simulated) CancelOrder(_ context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return &domain.NotFoundError{Entity: "order", ID: brokerOrderID}
	}
	if o.Status.Terminal() {
		return &domain.ExternalServiceError{Service: simulatedName, Op: "cancel order", StatusCode: http.StatusUnprocessableEntity, Err: fmt.Errorf("order %s is %s", o.ID, o.RawStatus)}
	}
	o.Status, o.RawStatus, o.UpdatedAt = domain.StatusCancelled, "canceled", s.now()
	s.orders[brokerOrderID] = o
	return nil
}

func (s *Simulated) GetOrder(_ context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return domain.BrokerOrder{}, &domain.NotFoundError{Entity: "order", ID: brokerOrderID}
	}
	return o, nil
}

func (s *Simulated) GetOrderByClientID(_ context.Context, clientOrderID string) (domain.BrokerOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClient[clientOrderID]
	if !ok {
		return domain.BrokerOrder{}, &domain.NotFoundError{Entity: "order", ID: clientOrderID}
	}
	return s.orders[id], nil
}

func (s *Simulated) GetPositions(_ context.Context) ([]domain.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BrokerPosition, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

func (s *Simulated) GetPosition(_ context.Context, symbol string) (domain.BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[symbol]
	if !ok {
		return domain.BrokerPosition{}, &domain.NotFoundError{Entity: "position", ID: symbol}
	}
	return p, nil
}

func (s *Simulated) GetLatestQuote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bid, ask := s.quoteLocked(symbol)
	b, _ := bid.Float64()
	a, _ := ask.Float64()
	return domain.Quote{Symbol: symbol, Bid: b, Ask: a, Timestamp: s.now()}, nil
}

// IsMarketOpen follows regular US equity hours, 09:30-16:00 New York time on
// weekdays. Holidays are not modelled.
func (s *Simulated) IsMarketOpen(_ context.Context) (bool, error) {
	s.mu.Lock()
	now := s.now().In(domain.MarketLocation())
	s.mu.Unlock()
	return regularHours(now), nil
}

func regularHours(t time.Time) bool {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	mins := t.Hour()*60 + t.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

// GetBars returns one synthetic bar per weekday in [start, end], stamped at
// the 16:00 close. A bar's prices depend only on the symbol and its date.
func (s *Simulated) GetBars(_ context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	loc := domain.MarketLocation()
	s.mu.Lock()
	base := s.midLocked(symbol)
	s.mu.Unlock()

	phase := float64(symbolHash(symbol)%628) / 100
	day := time.Date(start.In(loc).Year(), start.In(loc).Month(), start.In(loc).Day(), 16, 0, 0, 0, loc)
	var bars []domain.PriceBar
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		if day.Before(start) || day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		n := float64(day.Unix() / 86400)
		noise := float64(symbolHash(fmt.Sprintf("%s|%d", symbol, int64(n)))%2000)/1000 - 1
		closePx := base * (1 + 0.08*math.Sin(n/15+phase) + 0.01*noise)
		openPx := base * (1 + 0.08*math.Sin((n-0.5)/15+phase))
		bars = append(bars, domain.PriceBar{
			Symbol:    symbol,
			Timestamp: day.UTC(),
			Open:      openPx,
			High:      math.Max(openPx, closePx) * 1.005,
			Low:       math.Min(openPx, closePx) * 0.995,
			Close:     closePx,
			Volume:    float64(100_000 + symbolHash(symbol+day.Format("20060102"))%900_000),
		})
	}
	return bars, nil
}

var (
	_ domain.Broker  = (*Simulated)(nil)
	_ domain.BarFeed = (*Simulated)(nil)
)
