package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Quoter is the slice of the broker the services need for pricing.
type Quoter interface {
	GetLatestQuote(ctx context.Context, symbol string) (domain.Quote, error)
}

// RiskDecision is the outcome of a pre-trade check. A rejected decision
// carries the reason code; Quantity is set only when approved.
type RiskDecision struct {
	Approved bool
	Side     domain.OrderSide
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Reason   string
}

// ExitIntent is a synthetic SELL raised by a stop-loss or take-profit level.
type ExitIntent struct {
	Symbol     string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	PnLPercent float64
	Reason     string
}

// RiskService gates signals against a strategy's risk configuration and sizes
// approved orders.
type RiskService struct {
	portfolios domain.PortfolioStore
	positions  domain.PositionStore
	quotes     Quoter
	alerts     domain.AlertSink
	now        func() time.Time
	logger     *slog.Logger
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(
	portfolios domain.PortfolioStore,
	positions domain.PositionStore,
	quotes Quoter,
	alerts domain.AlertSink,
	logger *slog.Logger,
) *RiskService {
	return &RiskService{
		portfolios: portfolios,
		positions:  positions,
		quotes:     quotes,
		alerts:     alerts,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "risk_service")),
	}
}

// marks prices every open position from a live quote, falling back to the
// stored current price.
func (s *RiskService) marks(ctx context.Context, positions []domain.Position) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		q, err := s.quotes.GetLatestQuote(ctx, p.Symbol)
		if err != nil || q.Mid() <= 0 {
			out[p.Symbol] = p.MarkPrice()
			continue
		}
		out[p.Symbol] = decimal.NewFromFloat(q.Mid())
	}
	return out
}

// Exposure returns total portfolio value (cash plus marked positions) and
// the unrealized P&L across positions.
func Exposure(pf domain.Portfolio, positions []domain.Position, marks map[string]decimal.Decimal) (total, unrealized decimal.Decimal) {
	total = pf.CashBalance
	unrealized = decimal.Zero
	for _, p := range positions {
		price, ok := marks[p.Symbol]
		if !ok {
			price = p.MarkPrice()
		}
		total = total.Add(p.Quantity.Mul(price))
		unrealized = unrealized.Add(price.Sub(p.AveragePrice).Mul(p.Quantity))
	}
	return total, unrealized
}

// Assess applies the risk gates to sig at price. Gate failures are returned
// as an unapproved decision, never as an error; the error return is reserved
// for store failures and invalid input.
//
// Gates, in order:
//  1. Daily-loss circuit breaker (BUY only)
//  2. Position cap and no pyramiding (BUY only)
//  3. Sizing against portfolio value and cash (BUY only)
//  4. An open position to sell (SELL only)
func (s *RiskService) Assess(ctx context.Context, strat domain.Strategy, pf domain.Portfolio, sig domain.Signal, price decimal.Decimal) (RiskDecision, error) {
	if !sig.Actionable() {
		return RiskDecision{Reason: string(domain.SignalHold)}, nil
	}
	if !price.IsPositive() {
		return RiskDecision{}, domain.NewValidationError("price", fmt.Sprintf("price for %s must be > 0", sig.Symbol))
	}

	positions, err := s.positions.ListByPortfolio(ctx, pf.ID)
	if err != nil {
		return RiskDecision{}, fmt.Errorf("risk_service: list positions: %w", err)
	}

	if sig.Type == domain.SignalSell {
		for _, p := range positions {
			if p.Symbol == sig.Symbol {
				return RiskDecision{Approved: true, Side: domain.SideSell, Quantity: p.Quantity, Price: price}, nil
			}
		}
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideSell, price, domain.ReasonNoPosition, nil), nil
	}

	day := domain.TradingDay(s.now())
	rc := strat.Risk

	if pf.BreakerTripped(day) {
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideBuy, price, domain.ReasonDailyLossLimit, map[string]any{"tripped_on": day}), nil
	}

	marks := s.marks(ctx, positions)
	total, unrealized := Exposure(pf, positions, marks)

	if rc.DailyLossLimit.IsPositive() {
		realized := pf.RealizedToday(day)
		loss := realized.Add(unrealized).Neg()
		if loss.GreaterThan(rc.DailyLossLimit) {
			return s.tripBreaker(ctx, strat, pf, sig.Symbol, price, day, loss, realized, unrealized)
		}
	}

	if rc.MaxPositions > 0 && len(positions) >= rc.MaxPositions {
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideBuy, price, domain.ReasonMaxPositions, map[string]any{
			"open": len(positions),
			"max":  rc.MaxPositions,
		}), nil
	}
	if slices.ContainsFunc(positions, func(p domain.Position) bool { return p.Symbol == sig.Symbol }) {
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideBuy, price, domain.ReasonAlreadyHolding, nil), nil
	}

	budget := total.Mul(decimal.NewFromFloat(rc.MaxPositionSize))
	qty := domain.RoundShares(budget.Div(price))
	if qty.LessThan(decimal.NewFromInt(1)) {
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideBuy, price, domain.ReasonZeroQuantity, map[string]any{
			"budget": budget.StringFixed(2),
		}), nil
	}
	if cost := qty.Mul(price); cost.GreaterThan(pf.CashBalance) {
		return s.reject(ctx, strat, pf, sig.Symbol, domain.SideBuy, price, domain.ReasonInsufficientCash, map[string]any{
			"cost": cost.StringFixed(2),
			"cash": pf.CashBalance.StringFixed(2),
		}), nil
	}

	s.logger.DebugContext(ctx, "risk_service: order approved",
		slog.String("strategy_id", strat.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("qty", qty.String()),
		slog.String("price", price.String()),
		slog.String("portfolio_value", total.StringFixed(2)),
	)
	return RiskDecision{Approved: true, Side: domain.SideBuy, Quantity: qty, Price: price}, nil
}

func (s *RiskService) tripBreaker(
	ctx context.Context,
	strat domain.Strategy,
	pf domain.Portfolio,
	symbol string,
	price decimal.Decimal,
	day string,
	loss, realized, unrealized decimal.Decimal,
) (RiskDecision, error) {
	tripped, err := s.portfolios.TripCircuitBreaker(ctx, pf.ID, day)
	if err != nil {
		return RiskDecision{}, fmt.Errorf("risk_service: trip circuit breaker: %w", err)
	}
	detail := map[string]any{
		"loss":        loss.StringFixed(2),
		"limit":       strat.Risk.DailyLossLimit.StringFixed(2),
		"realized":    realized.StringFixed(2),
		"unrealized":  unrealized.StringFixed(2),
		"trading_day": day,
	}
	if !tripped {
		return s.reject(ctx, strat, pf, symbol, domain.SideBuy, price, domain.ReasonDailyLossLimit, detail), nil
	}

	s.logger.WarnContext(ctx, "risk_service: daily loss limit reached",
		slog.String("portfolio_id", pf.ID),
		slog.String("loss", loss.StringFixed(2)),
		slog.String("limit", strat.Risk.DailyLossLimit.StringFixed(2)),
	)
	s.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertDailyLossLimitReached,
		PortfolioID: pf.ID,
		StrategyID:  strat.ID,
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Price:       price,
		Reason:      domain.ReasonDailyLossLimit,
		Detail:      detail,
		At:          s.now().UTC(),
	})
	return RiskDecision{Side: domain.SideBuy, Price: price, Reason: domain.ReasonDailyLossLimit}, nil
}

func (s *RiskService) reject(
	ctx context.Context,
	strat domain.Strategy,
	pf domain.Portfolio,
	symbol string,
	side domain.OrderSide,
	price decimal.Decimal,
	reason string,
	detail map[string]any,
) RiskDecision {
	s.logger.InfoContext(ctx, "risk_service: signal rejected",
		slog.String("strategy_id", strat.ID),
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("reason", reason),
	)
	s.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertRiskRejected,
		PortfolioID: pf.ID,
		StrategyID:  strat.ID,
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Reason:      reason,
		Detail:      detail,
		At:          s.now().UTC(),
	})
	return RiskDecision{Side: side, Price: price, Reason: reason}
}

// CheckExits compares every open position in the strategy's universe with
// its stop-loss and take-profit levels and returns a full-quantity SELL for
// each one that has crossed.
func (s *RiskService) CheckExits(ctx context.Context, strat domain.Strategy, pf domain.Portfolio) ([]ExitIntent, error) {
	rc := strat.Risk
	if rc.StopLossPercent <= 0 && rc.TakeProfitPercent == nil {
		return nil, nil
	}

	positions, err := s.positions.ListByPortfolio(ctx, pf.ID)
	if err != nil {
		return nil, fmt.Errorf("risk_service: list positions: %w", err)
	}

	var exits []ExitIntent
	marks := s.marks(ctx, positions)
	for _, p := range positions {
		if !slices.Contains(strat.Universe, p.Symbol) {
			continue
		}
		price := marks[p.Symbol]
		pct := p.PnLPercent(price)

		var (
			reason string
			kind   domain.AlertKind
		)
		switch {
		case rc.StopLossPercent > 0 && pct <= -rc.StopLossPercent:
			reason, kind = domain.ReasonStopLoss, domain.AlertStopLossTriggered
		case rc.TakeProfitPercent != nil && pct >= *rc.TakeProfitPercent:
			reason, kind = domain.ReasonTakeProfit, domain.AlertTakeProfitTriggered
		default:
			continue
		}

		exit := ExitIntent{Symbol: p.Symbol, Quantity: p.Quantity, Price: price, PnLPercent: pct, Reason: reason}
		exits = append(exits, exit)

		s.logger.InfoContext(ctx, "risk_service: exit triggered",
			slog.String("strategy_id", strat.ID),
			slog.String("symbol", p.Symbol),
			slog.String("reason", reason),
			slog.Float64("pnl_percent", pct),
		)
		s.alerts.Emit(ctx, domain.Alert{
			Kind:        kind,
			PortfolioID: pf.ID,
			StrategyID:  strat.ID,
			Symbol:      p.Symbol,
			Side:        domain.SideSell,
			Quantity:    p.Quantity,
			Price:       price,
			Reason:      reason,
			Detail: map[string]any{
				"average_price": p.AveragePrice.String(),
				"pnl_percent":   pct,
			},
			At: s.now().UTC(),
		})
	}
	return exits, nil
}
