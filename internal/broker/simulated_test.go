package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Test_Simulated_Quote(t *testing.T) {
	ctx := context.Background()
	a := NewSimulated(discardLogger())
	b := NewSimulated(discardLogger())

	qa, err := a.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	qb, err := b.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)

	assert.Equal(t, qa.Bid, qb.Bid, "quotes are derived from the symbol")
	assert.Equal(t, qa.Ask, qb.Ask)
	assert.Less(t, qa.Bid, qa.Ask)
	assert.GreaterOrEqual(t, BasePrice("AAPL"), 20.0)
	assert.Less(t, BasePrice("AAPL"), 500.0)

	a.SetPrice("AAPL", 100)
	q, err := a.GetLatestQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 99.95, q.Bid)
	assert.Equal(t, 100.05, q.Ask)
}

func Test_Simulated_SubmitFillsImmediately(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(discardLogger())
	s.SetPrice("MSFT", 200)

	buy, err := s.SubmitOrder(ctx, domain.MarketOrder("t-1", "MSFT", domain.SideBuy, decimal.NewFromInt(10)))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, buy.Status)
	assert.Equal(t, "sim-000001", buy.ID)
	assert.True(t, buy.FilledQuantity.Equal(decimal.NewFromInt(10)))
	assert.True(t, buy.FilledAvgPrice.Equal(decimal.RequireFromString("200.1")))

	again, err := s.SubmitOrder(ctx, domain.MarketOrder("t-1", "MSFT", domain.SideBuy, decimal.NewFromInt(10)))
	require.NoError(t, err)
	assert.Equal(t, buy.ID, again.ID, "resubmitting a client order id returns the original order")

	pos, err := s.GetPosition(ctx, "MSFT")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(10)))

	byClient, err := s.GetOrderByClientID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, buy.ID, byClient.ID)

	sell, err := s.SubmitOrder(ctx, domain.MarketOrder("t-2", "MSFT", domain.SideSell, decimal.NewFromInt(10)))
	require.NoError(t, err)
	assert.True(t, sell.FilledAvgPrice.Equal(decimal.RequireFromString("199.9")))

	_, err = s.GetPosition(ctx, "MSFT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	positions, err := s.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func Test_Simulated_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(discardLogger())

	_, err := s.SubmitOrder(ctx, domain.MarketOrder("bad", "AAPL", domain.SideBuy, decimal.Zero))
	var ext *domain.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.True(t, ext.Rejected())

	_, err = s.GetOrder(ctx, "sim-404")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	o, err := s.SubmitOrder(ctx, domain.LimitOrder("lim", "AAPL", domain.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(50)))
	require.NoError(t, err)
	assert.True(t, o.FilledAvgPrice.Equal(decimal.NewFromInt(50)))

	err = s.CancelOrder(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrExternalService, "filled orders cannot be cancelled")
}

func Test_Simulated_MarketHours(t *testing.T) {
	ctx := context.Background()
	loc := domain.MarketLocation()
	s := NewSimulated(discardLogger())

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"tuesday open", time.Date(2024, 3, 5, 10, 0, 0, 0, loc), true},
		{"tuesday before open", time.Date(2024, 3, 5, 9, 29, 0, 0, loc), false},
		{"tuesday at close", time.Date(2024, 3, 5, 16, 0, 0, 0, loc), false},
		{"saturday", time.Date(2024, 3, 9, 12, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			s.SetClock(func() time.Time { return at })
			open, err := s.IsMarketOpen(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, open)
		})
	}
}

func Test_Simulated_Bars(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(discardLogger())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 28)

	bars, err := s.GetBars(ctx, "SPY", start, end)
	require.NoError(t, err)
	require.Len(t, bars, 20, "four weeks of weekdays")

	again, err := NewSimulated(discardLogger()).GetBars(ctx, "SPY", start, end)
	require.NoError(t, err)
	assert.Equal(t, bars, again)

	for i, b := range bars {
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.LessOrEqual(t, b.Low, b.Close)
		if i > 0 {
			assert.True(t, b.Timestamp.After(bars[i-1].Timestamp))
		}
	}
}
