package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func Test_ApplyFill_WeightedAverage(t *testing.T) {
	at := time.Now()
	pos, _, _ := ApplyFill(nil, "p1", "MSFT", SideBuy, d("10"), d("100"), at)
	require.NotNil(t, pos)
	pos, _, _ = ApplyFill(pos, "p1", "MSFT", SideBuy, d("30"), d("120"), at)

	// (10*100 + 30*120) / 40
	assert.True(t, pos.AveragePrice.Equal(d("115")), pos.AveragePrice.String())
	assert.True(t, pos.Quantity.Equal(d("40")))
	assert.True(t, pos.CostBasis.Equal(pos.AveragePrice.Mul(pos.Quantity)))
	assert.Equal(t, at, pos.OpenedAt)
}

func Test_ApplyFill_RoundTrip(t *testing.T) {
	at := time.Now()
	fills := []struct {
		side  OrderSide
		qty   string
		price string
	}{
		{SideBuy, "10", "50"},
		{SideBuy, "5", "56"},
		{SideSell, "7", "60"},
		{SideBuy, "2", "49"},
		{SideSell, "10", "58"},
	}

	var (
		pos      *Position
		realized = decimal.Zero
		cost     = decimal.Zero
		proceeds = decimal.Zero
	)
	for _, f := range fills {
		var r decimal.Decimal
		pos, r, _ = ApplyFill(pos, "p1", "IBM", f.side, d(f.qty), d(f.price), at)
		realized = realized.Add(r)
		notional := d(f.qty).Mul(d(f.price))
		if f.side == SideBuy {
			cost = cost.Add(notional)
		} else {
			proceeds = proceeds.Add(notional)
		}
		if pos != nil {
			assert.True(t, pos.CostBasis.Equal(pos.AveragePrice.Mul(pos.Quantity)))
		}
	}

	assert.Nil(t, pos, "fully sold position should be closed")
	assert.True(t, realized.Sub(proceeds.Sub(cost)).Abs().LessThan(d("0.000001")),
		"realized %s, want %s", realized, proceeds.Sub(cost))
}

func Test_ApplyFill_Oversell(t *testing.T) {
	at := time.Now()
	pos, _, _ := ApplyFill(nil, "p1", "IBM", SideBuy, d("3"), d("10"), at)
	next, realized, oversold := ApplyFill(pos, "p1", "IBM", SideSell, d("5"), d("12"), at)

	assert.Nil(t, next)
	assert.True(t, realized.Equal(d("6")))
	assert.True(t, oversold.Equal(d("2")))

	none, r, over := ApplyFill(nil, "p1", "IBM", SideSell, d("1"), d("12"), at)
	assert.Nil(t, none)
	assert.True(t, r.IsZero())
	assert.True(t, over.Equal(d("1")))
}

func Test_PositionMark(t *testing.T) {
	pos := Position{}
	pos.Reset(d("4"), d("25"), time.Now())
	pos.Mark(d("20"), time.Now())
	assert.True(t, pos.UnrealizedPnL.Equal(d("-20")))
	assert.InDelta(t, -20.0, pos.PnLPercent(d("20")), 1e-9)
	assert.True(t, pos.MarketValue().Equal(d("80")))
}

func Test_TradingDay(t *testing.T) {
	// 02:00 UTC is still the previous evening in New York.
	ts := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", TradingDay(ts))

	pf := Portfolio{}
	pf.BookRealized(d("-10"), "2026-03-02")
	pf.BookRealized(d("-5"), "2026-03-02")
	assert.True(t, pf.RealizedToday("2026-03-02").Equal(d("-15")))
	assert.True(t, pf.RealizedToday("2026-03-03").IsZero())
	pf.BookRealized(d("3"), "2026-03-03")
	assert.True(t, pf.DailyRealizedPnL.Equal(d("3")))
}
