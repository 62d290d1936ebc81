package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind names an engine event delivered to the alerting collaborator.
type AlertKind string

const (
	AlertTradeExecuted         AlertKind = "tradeExecuted"
	AlertTradeFailed           AlertKind = "tradeFailed"
	AlertStopLossTriggered     AlertKind = "stopLossTriggered"
	AlertTakeProfitTriggered   AlertKind = "takeProfitTriggered"
	AlertDailyLossLimitReached AlertKind = "dailyLossLimitReached"
	AlertStrategyError         AlertKind = "strategyError"
	AlertRiskRejected          AlertKind = "riskRejected"
	AlertPositionMismatch      AlertKind = "positionMismatch"
)

// Reason codes attached to risk and reconciliation alerts.
const (
	ReasonDailyLossLimit   = "DAILY_LOSS_LIMIT"
	ReasonMaxPositions     = "MAX_POSITIONS"
	ReasonAlreadyHolding   = "ALREADY_HOLDING"
	ReasonZeroQuantity     = "ZERO_QUANTITY"
	ReasonInsufficientCash = "INSUFFICIENT_CASH"
	ReasonNoPosition       = "NO_POSITION"
	ReasonStopLoss         = "STOP_LOSS"
	ReasonTakeProfit       = "TAKE_PROFIT"
	ReasonExitedThisRun    = "EXITED_THIS_RUN"
	ReasonMissingLocally   = "MISSING_LOCALLY"
	ReasonMissingAtBroker  = "MISSING_AT_BROKER"
	ReasonQuantityMismatch = "QUANTITY_MISMATCH"
	ReasonPriceMismatch    = "PRICE_MISMATCH"
	ReasonOversold         = "OVERSOLD"
	ReasonStrategyError    = "STRATEGY_ERROR"
)

// Alert is a structured engine event with enough payload for a notifier to
// render a message.
type Alert struct {
	Kind        AlertKind       `json:"kind"`
	PortfolioID string          `json:"portfolio_id"`
	StrategyID  string          `json:"strategy_id,omitempty"`
	TradeID     string          `json:"trade_id,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Side        OrderSide       `json:"side,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Reason      string          `json:"reason,omitempty"`
	Detail      map[string]any  `json:"detail,omitempty"`
	At          time.Time       `json:"at"`
}

// AlertSink receives engine events. Emit must not block on delivery and its
// failure must never fail the operation that raised the alert.
type AlertSink interface {
	Emit(ctx context.Context, alert Alert)
}

// DiscardAlerts is an AlertSink that drops everything.
type DiscardAlerts struct{}

func (DiscardAlerts) Emit(context.Context, Alert) {}
