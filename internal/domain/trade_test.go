package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from TradeStatus
		to   TradeStatus
		want bool
	}{
		{"pending to submitted", StatusPending, StatusSubmitted, true},
		{"pending to rejected", StatusPending, StatusRejected, true},
		{"pending to filled skips submission", StatusPending, StatusFilled, false},
		{"submitted to partial", StatusSubmitted, StatusPartiallyFilled, true},
		{"submitted to filled", StatusSubmitted, StatusFilled, true},
		{"partial to more partial", StatusPartiallyFilled, StatusPartiallyFilled, true},
		{"partial to filled", StatusPartiallyFilled, StatusFilled, true},
		{"partial to rejected", StatusPartiallyFilled, StatusRejected, false},
		{"submitted back to pending", StatusSubmitted, StatusPending, false},
		{"filled is terminal", StatusFilled, StatusCancelled, false},
		{"cancelled is terminal", StatusCancelled, StatusSubmitted, false},
		{"rejected is terminal", StatusRejected, StatusSubmitted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func Test_TerminalStatusesHaveNoEdges(t *testing.T) {
	all := []TradeStatus{StatusPending, StatusSubmitted, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.ElementsMatch(t, []TradeStatus{StatusPending, StatusSubmitted, StatusPartiallyFilled}, InFlightStatuses)
}

func Test_TradeDelta(t *testing.T) {
	trade := Trade{
		Status:         StatusPartiallyFilled,
		FilledQuantity: decimal.NewFromInt(4),
		FilledAvgPrice: decimal.NewFromInt(10),
	}

	d := trade.Delta(Fill{Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(13)})
	assert.True(t, d.Quantity.Equal(decimal.NewFromInt(6)))
	// 10*13 - 4*10 = 90 over 6 shares
	assert.True(t, d.Notional.Equal(decimal.NewFromInt(90)))
	assert.True(t, d.Price.Equal(decimal.NewFromInt(15)))

	none := trade.Delta(Fill{Quantity: decimal.NewFromInt(4), AvgPrice: decimal.NewFromInt(10)})
	assert.True(t, none.Quantity.IsZero())
	assert.True(t, none.Notional.IsZero())
}

func Test_Settle(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	t.Run("buy fill debits cash and opens position", func(t *testing.T) {
		trade := Trade{ID: "t1", PortfolioID: "p1", Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(10), Status: StatusSubmitted}
		pf := Portfolio{ID: "p1", CashBalance: decimal.NewFromInt(10_000)}

		res, next, err := Settle(trade, pf, nil, Fill{Status: StatusFilled, Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100), At: at})
		require.NoError(t, err)

		assert.Equal(t, StatusFilled, res.Trade.Status)
		require.NotNil(t, res.Trade.ExecutedAt)
		assert.True(t, next.CashBalance.Equal(decimal.NewFromInt(9_000)))
		require.NotNil(t, res.Position)
		assert.True(t, res.Position.AveragePrice.Equal(decimal.NewFromInt(100)))
		assert.True(t, res.Position.CostBasis.Equal(decimal.NewFromInt(1_000)))
	})

	t.Run("partial fills only move the increment", func(t *testing.T) {
		trade := Trade{ID: "t1", PortfolioID: "p1", Symbol: "AAPL", Side: SideBuy, Quantity: decimal.NewFromInt(10), Status: StatusSubmitted}
		pf := Portfolio{ID: "p1", CashBalance: decimal.NewFromInt(10_000)}

		first, pf, err := Settle(trade, pf, nil, Fill{Status: StatusPartiallyFilled, Quantity: decimal.NewFromInt(4), AvgPrice: decimal.NewFromInt(100), At: at})
		require.NoError(t, err)
		assert.True(t, pf.CashBalance.Equal(decimal.NewFromInt(9_600)))
		assert.Nil(t, first.Trade.ExecutedAt)

		second, pf, err := Settle(first.Trade, pf, first.Position, Fill{Status: StatusFilled, Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100), At: at})
		require.NoError(t, err)
		assert.True(t, pf.CashBalance.Equal(decimal.NewFromInt(9_000)))
		assert.True(t, second.Position.Quantity.Equal(decimal.NewFromInt(10)))
	})

	t.Run("sell fill credits cash and books realized pnl", func(t *testing.T) {
		pos := &Position{PortfolioID: "p1", Symbol: "AAPL"}
		pos.Reset(decimal.NewFromInt(10), decimal.NewFromInt(100), at)
		trade := Trade{ID: "t2", PortfolioID: "p1", Symbol: "AAPL", Side: SideSell, Quantity: decimal.NewFromInt(10), Status: StatusSubmitted}
		pf := Portfolio{ID: "p1", CashBalance: decimal.NewFromInt(1_000)}

		res, next, err := Settle(trade, pf, pos, Fill{Status: StatusFilled, Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(90), At: at})
		require.NoError(t, err)
		assert.Nil(t, res.Position)
		assert.True(t, res.RealizedPnL.Equal(decimal.NewFromInt(-100)))
		assert.True(t, next.CashBalance.Equal(decimal.NewFromInt(1_900)))
		assert.True(t, next.RealizedToday(TradingDay(at)).Equal(decimal.NewFromInt(-100)))
	})

	t.Run("rejects backward and non-fill transitions", func(t *testing.T) {
		filled := Trade{ID: "t3", Side: SideBuy, Status: StatusFilled}
		_, _, err := Settle(filled, Portfolio{}, nil, Fill{Status: StatusFilled, Quantity: decimal.NewFromInt(1), AvgPrice: decimal.NewFromInt(1), At: at})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, _, err = Settle(Trade{ID: "t4", Status: StatusSubmitted}, Portfolio{}, nil, Fill{Status: StatusCancelled})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}
