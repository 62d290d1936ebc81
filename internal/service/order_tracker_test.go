package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

func pendingTrade(id, symbol string, qty string) domain.Trade {
	return domain.Trade{
		ID:          id,
		PortfolioID: "pf-1",
		StrategyID:  "strat-1",
		Symbol:      symbol,
		Side:        domain.SideBuy,
		Quantity:    d(qty),
		OrderType:   domain.OrderTypeMarket,
		Status:      domain.StatusPending,
		CreatedAt:   fixedNow,
	}
}

func Test_Poll_ResubmitsUnseenPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.portfolio(t, "10000")
	h.sim.SetPrice("AAPL", 100)
	require.NoError(t, h.store.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-1", "AAPL", "5")))

	sum, err := h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, PollSummary{Checked: 1, Advanced: 1, Resubmitted: 1}, sum)

	tr, err := h.store.Trades().GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, tr.Status)

	o, err := h.sim.GetOrderByClientID(ctx, "t-1")
	require.NoError(t, err, "resubmission reuses the trade id as client order id")
	assert.Equal(t, o.ID, tr.BrokerOrderID)

	sum, err = h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Checked, "filled trades are no longer in flight")
}

func Test_Poll_AdoptsOrderAlreadyAtBroker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.portfolio(t, "10000")
	h.sim.SetPrice("AAPL", 100)
	require.NoError(t, h.store.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-1", "AAPL", "5")))

	// The submit reached the broker but the response was lost.
	_, err := h.sim.SubmitOrder(ctx, domain.MarketOrder("t-1", "AAPL", domain.SideBuy, d("5")))
	require.NoError(t, err)

	sum, err := h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Adopted)
	assert.Zero(t, sum.Resubmitted)

	positions, err := h.sim.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Quantity.Equal(d("5")), "no duplicate order at the broker")
}

func Test_Poll_PartialFillsMoveCashIncrementally(t *testing.T) {
	ctx := context.Background()
	b := newScripted()

	reports := []domain.BrokerOrder{
		{ID: "b-1", RawStatus: "new", Status: domain.StatusSubmitted},
		{ID: "b-1", RawStatus: "partially_filled", Status: domain.StatusPartiallyFilled, FilledQuantity: d("4"), FilledAvgPrice: d("100")},
		{ID: "b-1", RawStatus: "partially_filled", Status: domain.StatusPartiallyFilled, FilledQuantity: d("4"), FilledAvgPrice: d("100")},
		{ID: "b-1", RawStatus: "new", Status: domain.StatusSubmitted},
		{ID: "b-1", RawStatus: "filled", Status: domain.StatusFilled, FilledQuantity: d("10"), FilledAvgPrice: d("101.2")},
	}
	step := 0
	b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
		return reports[0], nil
	}
	b.getOrder = func(context.Context, string) (domain.BrokerOrder, error) {
		step++
		r := reports[step]
		r.UpdatedAt = fixedNow.Add(time.Duration(step) * time.Minute)
		return r, nil
	}

	h := newHarness(t, b)
	h.portfolio(t, "10000")

	tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "10"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, tr.Status)

	cash := func() string {
		pf, err := h.store.Portfolios().GetByID(ctx, "pf-1")
		require.NoError(t, err)
		return pf.CashBalance.String()
	}

	sum, err := h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)
	assert.Equal(t, "9600", cash())

	sum, err = h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Advanced, "repeated report changes nothing")
	assert.Equal(t, "9600", cash())

	sum, err = h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Advanced, "backward mapping is ignored")

	sum, err = h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Advanced)
	assert.Equal(t, "8988", cash())

	got, err := h.store.Trades().GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, got.Status)
	assert.Len(t, h.alerts.ofKind(domain.AlertTradeExecuted), 2)

	pos, err := h.store.Positions().Get(ctx, "pf-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.AveragePrice.Equal(d("101.2")))
}

func Test_Poll_CancelAfterPartial(t *testing.T) {
	ctx := context.Background()
	b := newScripted()
	b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
		return domain.BrokerOrder{ID: "b-1", RawStatus: "accepted", Status: domain.StatusSubmitted}, nil
	}
	b.getOrder = func(context.Context, string) (domain.BrokerOrder, error) {
		return domain.BrokerOrder{ID: "b-1", RawStatus: "canceled", Status: domain.StatusCancelled, FilledQuantity: d("3"), FilledAvgPrice: d("100"), UpdatedAt: fixedNow}, nil
	}
	h := newHarness(t, b)
	h.portfolio(t, "10000")

	tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	_, err = h.tracker.Poll(ctx)
	require.NoError(t, err)

	got, err := h.store.Trades().GetByID(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.True(t, got.FilledQuantity.Equal(d("3")))

	pos, err := h.store.Positions().Get(ctx, "pf-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("3")), "executed quantity before the cancel is booked")
	assert.Len(t, h.alerts.ofKind(domain.AlertTradeFailed), 1)
}

func Test_Poll_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	b := newScripted()
	b.getOrder = func(_ context.Context, id string) (domain.BrokerOrder, error) {
		if id == "b-bad" {
			return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: "test", Op: "get order", Err: errors.New("boom")}
		}
		return domain.BrokerOrder{ID: id, RawStatus: "filled", Status: domain.StatusFilled, FilledQuantity: d("1"), FilledAvgPrice: d("50"), UpdatedAt: fixedNow}, nil
	}
	h := newHarness(t, b)
	h.portfolio(t, "10000")

	for _, tc := range []struct{ id, symbol, broker string }{{"t-bad", "AAA", "b-bad"}, {"t-good", "BBB", "b-good"}} {
		tr := pendingTrade(tc.id, tc.symbol, "1")
		require.NoError(t, h.store.Trades().CreateIfNoneInFlight(ctx, tr))
		_, err := h.store.Trades().Transition(ctx, tc.id, domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{BrokerOrderID: tc.broker})
		require.NoError(t, err)
	}

	sum, err := h.tracker.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Checked)
	assert.Equal(t, 1, sum.Advanced)
	assert.Equal(t, 1, sum.Failed)
}
