package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

func buySignal(symbol string) domain.Signal {
	return domain.Signal{Symbol: symbol, Type: domain.SignalBuy, Strength: 0.8, Composite: 0.8, GeneratedAt: fixedNow}
}

func Test_RiskService_Assess(t *testing.T) {
	tests := []struct {
		name        string
		description string
		cash        string
		holdings    [][3]string
		mutate      func(*domain.Strategy)
		signal      domain.Signal
		price       string
		wantOK      bool
		wantQty     string
		wantReason  string
	}{
		{
			name:        "sized buy",
			description: "10% of 10000 at 99.5 floors to 10 shares",
			cash:        "10000",
			signal:      buySignal("AAPL"),
			price:       "99.5",
			wantOK:      true,
			wantQty:     "10",
		},
		{
			name:        "position value counts toward sizing",
			description: "cash 5000 plus 50 MSFT marked at 100 is 10000 total",
			cash:        "5000",
			holdings:    [][3]string{{"MSFT", "50", "100"}},
			signal:      buySignal("AAPL"),
			price:       "49",
			wantOK:      true,
			wantQty:     "20",
		},
		{
			name:       "zero quantity",
			cash:       "1000",
			signal:     buySignal("AAPL"),
			price:      "150",
			wantReason: domain.ReasonZeroQuantity,
		},
		{
			name:        "insufficient cash",
			description: "half of a 10000 portfolio is more than the 1000 cash",
			cash:        "1000",
			holdings:    [][3]string{{"MSFT", "90", "100"}},
			mutate:      func(s *domain.Strategy) { s.Risk.MaxPositionSize = 0.5 },
			signal:      buySignal("AAPL"),
			price:       "100",
			wantReason:  domain.ReasonInsufficientCash,
		},
		{
			name:       "max positions",
			cash:       "10000",
			holdings:   [][3]string{{"MSFT", "1", "100"}, {"GOOG", "1", "100"}},
			mutate:     func(s *domain.Strategy) { s.Risk.MaxPositions = 2 },
			signal:     buySignal("AAPL"),
			price:      "100",
			wantReason: domain.ReasonMaxPositions,
		},
		{
			name:       "already holding",
			cash:       "10000",
			holdings:   [][3]string{{"AAPL", "1", "100"}},
			signal:     buySignal("AAPL"),
			price:      "100",
			wantReason: domain.ReasonAlreadyHolding,
		},
		{
			name:       "sell without position",
			cash:       "10000",
			signal:     domain.Signal{Symbol: "AAPL", Type: domain.SignalSell, GeneratedAt: fixedNow},
			price:      "100",
			wantReason: domain.ReasonNoPosition,
		},
		{
			name:     "sell closes full position",
			cash:     "10000",
			holdings: [][3]string{{"AAPL", "7", "100"}},
			signal:   domain.Signal{Symbol: "AAPL", Type: domain.SignalSell, GeneratedAt: fixedNow},
			price:    "100",
			wantOK:   true,
			wantQty:  "7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			pf := h.portfolio(t, tt.cash)
			for _, hd := range tt.holdings {
				h.hold(t, hd[0], hd[1], hd[2])
				h.sim.SetPrice(hd[0], d(hd[2]).InexactFloat64())
			}
			strat := trendStrategy("AAPL")
			if tt.mutate != nil {
				tt.mutate(&strat)
			}

			got, err := h.risk.Assess(context.Background(), strat, pf, tt.signal, d(tt.price))
			require.NoError(t, err, tt.description)
			assert.Equal(t, tt.wantOK, got.Approved, tt.description)
			if tt.wantOK {
				assert.True(t, got.Quantity.Equal(d(tt.wantQty)), "qty %s", got.Quantity)
				assert.Empty(t, h.alerts.ofKind(domain.AlertRiskRejected))
				return
			}
			assert.Equal(t, tt.wantReason, got.Reason)
			rejected := h.alerts.ofKind(domain.AlertRiskRejected)
			require.Len(t, rejected, 1)
			assert.Equal(t, tt.wantReason, rejected[0].Reason)
		})
	}
}

func Test_RiskService_Hold(t *testing.T) {
	h := newHarness(t, nil)
	pf := h.portfolio(t, "10000")
	got, err := h.risk.Assess(context.Background(), trendStrategy("AAPL"), pf, domain.HoldSignal("AAPL", fixedNow), d("100"))
	require.NoError(t, err)
	assert.False(t, got.Approved)
	assert.Empty(t, h.alerts.alerts)
}

func Test_RiskService_InvalidPrice(t *testing.T) {
	h := newHarness(t, nil)
	pf := h.portfolio(t, "10000")
	_, err := h.risk.Assess(context.Background(), trendStrategy("AAPL"), pf, buySignal("AAPL"), decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func Test_RiskService_DailyLossBreaker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	day := domain.TradingDay(fixedNow)

	pf := domain.Portfolio{
		ID:               "pf-1",
		CashBalance:      d("10000"),
		DailyRealizedPnL: d("-300"),
		DailyPnLDate:     day,
	}
	require.NoError(t, h.store.Portfolios().Create(ctx, pf))
	h.hold(t, "MSFT", "10", "100")
	h.sim.SetPrice("MSFT", 75)

	strat := trendStrategy("AAPL")
	strat.Risk.DailyLossLimit = d("500")

	got, err := h.risk.Assess(ctx, strat, pf, buySignal("AAPL"), d("100"))
	require.NoError(t, err)
	assert.False(t, got.Approved)
	assert.Equal(t, domain.ReasonDailyLossLimit, got.Reason)

	reached := h.alerts.ofKind(domain.AlertDailyLossLimitReached)
	require.Len(t, reached, 1, "realized -300 plus unrealized -250 exceeds 500")
	assert.Equal(t, "550.00", reached[0].Detail["loss"])

	stored, err := h.store.Portfolios().GetByID(ctx, "pf-1")
	require.NoError(t, err)
	assert.True(t, stored.BreakerTripped(day))

	got, err = h.risk.Assess(ctx, strat, stored, buySignal("AAPL"), d("100"))
	require.NoError(t, err)
	assert.False(t, got.Approved)
	assert.Equal(t, domain.ReasonDailyLossLimit, got.Reason)
	assert.Len(t, h.alerts.ofKind(domain.AlertDailyLossLimitReached), 1, "breaker alert fires once per day")

	sell := domain.Signal{Symbol: "MSFT", Type: domain.SignalSell, GeneratedAt: fixedNow}
	got, err = h.risk.Assess(ctx, strat, stored, sell, d("75"))
	require.NoError(t, err)
	assert.True(t, got.Approved, "sells are allowed while the breaker is tripped")
}

func Test_RiskService_YesterdayLossIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	pf := domain.Portfolio{
		ID:                 "pf-1",
		CashBalance:        d("10000"),
		DailyRealizedPnL:   d("-5000"),
		DailyPnLDate:       "2024-03-04",
		CircuitBreakerDate: "2024-03-04",
	}
	require.NoError(t, h.store.Portfolios().Create(ctx, pf))

	strat := trendStrategy("AAPL")
	strat.Risk.DailyLossLimit = d("500")

	got, err := h.risk.Assess(ctx, strat, pf, buySignal("AAPL"), d("100"))
	require.NoError(t, err)
	assert.True(t, got.Approved)
}

func Test_RiskService_CheckExits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	pf := h.portfolio(t, "10000")

	h.hold(t, "LOSS", "10", "100")
	h.sim.SetPrice("LOSS", 94)
	h.hold(t, "GAIN", "5", "100")
	h.sim.SetPrice("GAIN", 111)
	h.hold(t, "FLAT", "5", "100")
	h.sim.SetPrice("FLAT", 101)
	h.hold(t, "OTHER", "5", "100")
	h.sim.SetPrice("OTHER", 50)

	tp := 10.0
	strat := trendStrategy("LOSS", "GAIN", "FLAT")
	strat.Risk.StopLossPercent = 5
	strat.Risk.TakeProfitPercent = &tp

	exits, err := h.risk.CheckExits(ctx, strat, pf)
	require.NoError(t, err)
	require.Len(t, exits, 2, "OTHER is outside the universe")

	bySymbol := map[string]ExitIntent{}
	for _, e := range exits {
		bySymbol[e.Symbol] = e
	}
	assert.Equal(t, domain.ReasonStopLoss, bySymbol["LOSS"].Reason)
	assert.True(t, bySymbol["LOSS"].Quantity.Equal(d("10")))
	assert.Equal(t, domain.ReasonTakeProfit, bySymbol["GAIN"].Reason)

	assert.Len(t, h.alerts.ofKind(domain.AlertStopLossTriggered), 1)
	assert.Len(t, h.alerts.ofKind(domain.AlertTakeProfitTriggered), 1)
}
