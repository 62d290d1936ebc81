package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// OrderIntent is a request to trade, from a strategy signal, an exit rule or
// a manual caller.
type OrderIntent struct {
	PortfolioID    string
	StrategyID     string
	Symbol         string
	Side           domain.OrderSide
	Type           domain.OrderType
	Quantity       decimal.Decimal
	ReferencePrice decimal.Decimal
	LimitPrice     decimal.Decimal
	StopPrice      decimal.Decimal
	Signal         *domain.Signal
	Reason         string
}

// Validate reports every problem with the intent at once.
func (i OrderIntent) Validate() error {
	var problems []string
	if i.PortfolioID == "" {
		problems = append(problems, "portfolio id must not be empty")
	}
	if i.Symbol == "" {
		problems = append(problems, "symbol must not be empty")
	}
	if i.Side != domain.SideBuy && i.Side != domain.SideSell {
		problems = append(problems, "side must be BUY or SELL")
	}
	if !i.Quantity.IsPositive() {
		problems = append(problems, "quantity must be > 0")
	}
	switch i.Type {
	case "", domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if !i.LimitPrice.IsPositive() {
			problems = append(problems, "limit price must be > 0")
		}
	case domain.OrderTypeStop:
		if !i.StopPrice.IsPositive() {
			problems = append(problems, "stop price must be > 0")
		}
	default:
		problems = append(problems, "unknown order type "+string(i.Type))
	}
	if len(problems) > 0 {
		return domain.NewValidationError("order_intent", problems...)
	}
	return nil
}

// orderRequest rebuilds the broker request for t. The trade id is the client
// order id so every resubmission of t is recognisable at the broker.
func orderRequest(t domain.Trade) domain.OrderRequest {
	switch t.OrderType {
	case domain.OrderTypeLimit:
		return domain.LimitOrder(t.ID, t.Symbol, t.Side, t.Quantity, t.Price)
	case domain.OrderTypeStop:
		return domain.StopOrder(t.ID, t.Symbol, t.Side, t.Quantity, t.StopPrice)
	default:
		return domain.MarketOrder(t.ID, t.Symbol, t.Side, t.Quantity)
	}
}

// ExecutionService turns approved intents into trades and broker orders.
type ExecutionService struct {
	trades    domain.TradeStore
	broker    domain.Broker
	lifecycle *Lifecycle
	audit     domain.AuditStore
	newID     func() string
	now       func() time.Time
	logger    *slog.Logger
}

// NewExecutionService creates an ExecutionService. audit may be nil.
func NewExecutionService(
	trades domain.TradeStore,
	broker domain.Broker,
	lifecycle *Lifecycle,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ExecutionService {
	return &ExecutionService{
		trades:    trades,
		broker:    broker,
		lifecycle: lifecycle,
		audit:     audit,
		newID:     uuid.NewString,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "order_service")),
	}
}

// Execute records a PENDING trade for intent and submits it. ErrConflict means
// another trade for the same (portfolio, symbol, strategy) is still in
// flight. A transport failure leaves the trade PENDING for the tracker to
// recover; a broker refusal marks it REJECTED. In both cases the trade is
// returned with the error.
func (s *ExecutionService) Execute(ctx context.Context, intent OrderIntent) (domain.Trade, error) {
	if err := intent.Validate(); err != nil {
		return domain.Trade{}, err
	}
	if intent.Type == "" {
		intent.Type = domain.OrderTypeMarket
	}

	now := s.now().UTC()
	price := intent.ReferencePrice
	if intent.Type == domain.OrderTypeLimit {
		price = intent.LimitPrice
	}
	t := domain.Trade{
		ID:             s.newID(),
		PortfolioID:    intent.PortfolioID,
		StrategyID:     intent.StrategyID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Quantity:       intent.Quantity,
		Price:          price,
		StopPrice:      intent.StopPrice,
		OrderType:      intent.Type,
		Status:         domain.StatusPending,
		FilledQuantity: decimal.Zero,
		FilledAvgPrice: decimal.Zero,
		Signal:         intent.Signal,
		Reason:         intent.Reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.trades.CreateIfNoneInFlight(ctx, t); err != nil {
		return domain.Trade{}, fmt.Errorf("order_service: create trade: %w", err)
	}

	o, err := s.broker.SubmitOrder(ctx, orderRequest(t))
	if err != nil {
		if domain.IsRejection(err) {
			rejected, rerr := s.lifecycle.Reject(ctx, t, err)
			if rerr != nil {
				s.logger.ErrorContext(ctx, "order_service: mark rejected failed",
					slog.String("trade_id", t.ID),
					slog.String("error", rerr.Error()),
				)
			}
			return rejected, fmt.Errorf("order_service: submit %s: %w", t.ID, err)
		}
		s.logger.WarnContext(ctx, "order_service: submit failed, trade left pending",
			slog.String("trade_id", t.ID),
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
		return t, fmt.Errorf("order_service: submit %s: %w", t.ID, err)
	}

	next, _, err := s.lifecycle.Advance(ctx, t, o)
	if err != nil {
		return t, fmt.Errorf("order_service: advance %s: %w", t.ID, err)
	}

	s.logger.InfoContext(ctx, "order_service: order placed",
		slog.String("trade_id", next.ID),
		slog.String("broker_order_id", o.ID),
		slog.String("symbol", next.Symbol),
		slog.String("side", string(next.Side)),
		slog.String("qty", next.Quantity.String()),
		slog.String("status", string(next.Status)),
	)
	s.auditLog(ctx, domain.AuditOrderPlaced, next.PortfolioID, map[string]any{
		"trade_id":        next.ID,
		"broker_order_id": o.ID,
		"strategy_id":     next.StrategyID,
		"symbol":          next.Symbol,
		"side":            string(next.Side),
		"quantity":        next.Quantity.String(),
		"status":          string(next.Status),
	})
	return next, nil
}

// Cancel asks the broker to cancel trade tradeID and applies whatever state
// the broker reports afterwards. A PENDING trade the broker never saw is
// cancelled locally.
func (s *ExecutionService) Cancel(ctx context.Context, tradeID string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("order_service: get trade: %w", err)
	}
	if t.Status.Terminal() {
		return t, &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s is already %s", t.ID, t.Status)}
	}

	brokerID := t.BrokerOrderID
	if brokerID == "" {
		o, err := s.broker.GetOrderByClientID(ctx, t.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			next, err := s.trades.Transition(ctx, t.ID, domain.StatusPending, domain.StatusCancelled, domain.TradeUpdate{Reason: "cancelled before submission"})
			if err != nil {
				return t, fmt.Errorf("order_service: cancel %s: %w", t.ID, err)
			}
			s.auditLog(ctx, domain.AuditOrderCancelled, t.PortfolioID, map[string]any{"trade_id": t.ID, "local": true})
			return next, nil
		case err != nil:
			return t, fmt.Errorf("order_service: lookup %s: %w", t.ID, err)
		}
		if t, _, err = s.lifecycle.Advance(ctx, t, o); err != nil {
			return t, fmt.Errorf("order_service: adopt %s: %w", t.ID, err)
		}
		if t.Status.Terminal() {
			return t, nil
		}
		brokerID = o.ID
	}

	if err := s.broker.CancelOrder(ctx, brokerID); err != nil {
		return t, fmt.Errorf("order_service: cancel %s: %w", t.ID, err)
	}
	o, err := s.broker.GetOrder(ctx, brokerID)
	if err != nil {
		return t, fmt.Errorf("order_service: refresh %s: %w", t.ID, err)
	}
	next, _, err := s.lifecycle.Advance(ctx, t, o)
	if err != nil {
		return t, fmt.Errorf("order_service: advance %s: %w", t.ID, err)
	}
	s.auditLog(ctx, domain.AuditOrderCancelled, t.PortfolioID, map[string]any{"trade_id": t.ID, "broker_order_id": brokerID, "status": string(next.Status)})
	return next, nil
}

func (s *ExecutionService) auditLog(ctx context.Context, event domain.AuditEvent, portfolioID string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, portfolioID, detail); err != nil {
		s.logger.WarnContext(ctx, "order_service: audit log failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}
