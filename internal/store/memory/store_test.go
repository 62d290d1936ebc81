package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func seed(t *testing.T, s *Store, cash string) domain.Portfolio {
	t.Helper()
	pf := domain.Portfolio{ID: "pf-1", Name: "paper", CashBalance: d(cash), TradingMode: domain.TradingModePaper}
	require.NoError(t, s.Portfolios().Create(context.Background(), pf))
	return pf
}

func pendingTrade(id, symbol string, side domain.OrderSide, qty string) domain.Trade {
	return domain.Trade{
		ID:          id,
		PortfolioID: "pf-1",
		StrategyID:  "strat-1",
		Symbol:      symbol,
		Side:        side,
		Quantity:    d(qty),
		OrderType:   domain.OrderTypeMarket,
		Status:      domain.StatusPending,
	}
}

func Test_CreateIfNoneInFlight_Concurrent(t *testing.T) {
	s := New()
	seed(t, s, "10000")
	ctx := context.Background()

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Trades().CreateIfNoneInFlight(ctx, pendingTrade(fmt.Sprintf("t-%d", i), "AAPL", domain.SideBuy, "1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, conflicts)

	inflight, err := s.Trades().ListInFlight(ctx)
	require.NoError(t, err)
	assert.Len(t, inflight, 1)
}

func Test_CreateIfNoneInFlight_Scopes(t *testing.T) {
	s := New()
	seed(t, s, "10000")
	ctx := context.Background()

	require.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-1", "AAPL", domain.SideBuy, "1")))

	other := pendingTrade("t-2", "AAPL", domain.SideBuy, "1")
	other.StrategyID = "strat-2"
	assert.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, other), "different strategy")

	assert.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-3", "MSFT", domain.SideBuy, "1")), "different symbol")

	_, err := s.Trades().Transition(ctx, "t-1", domain.StatusPending, domain.StatusRejected, domain.TradeUpdate{Reason: "test"})
	require.NoError(t, err)
	assert.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-4", "AAPL", domain.SideBuy, "1")), "terminal trade frees the slot")
}

func Test_Transition(t *testing.T) {
	s := New()
	seed(t, s, "10000")
	ctx := context.Background()
	require.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-1", "AAPL", domain.SideBuy, "1")))

	now := time.Now().UTC()
	tr, err := s.Trades().Transition(ctx, "t-1", domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{BrokerOrderID: "b-1", SubmittedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, tr.Status)
	assert.Equal(t, "b-1", tr.BrokerOrderID)
	require.NotNil(t, tr.SubmittedAt)

	_, err = s.Trades().Transition(ctx, "t-1", domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{})
	assert.ErrorIs(t, err, domain.ErrConflict, "stale from status")

	_, err = s.Trades().Transition(ctx, "t-1", domain.StatusSubmitted, domain.StatusPending, domain.TradeUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = s.Trades().Transition(ctx, "missing", domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_ApplyFill(t *testing.T) {
	s := New()
	seed(t, s, "10000")
	ctx := context.Background()
	require.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-1", "AAPL", domain.SideBuy, "10")))
	_, err := s.Trades().Transition(ctx, "t-1", domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{BrokerOrderID: "b-1"})
	require.NoError(t, err)

	at := time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)
	res, err := s.Ledger().ApplyFill(ctx, "t-1", domain.StatusSubmitted, domain.Fill{Status: domain.StatusPartiallyFilled, Quantity: d("4"), AvgPrice: d("100"), At: at})
	require.NoError(t, err)
	assert.True(t, res.CashBalance.Equal(d("9600")))

	res, err = s.Ledger().ApplyFill(ctx, "t-1", domain.StatusPartiallyFilled, domain.Fill{Status: domain.StatusFilled, Quantity: d("10"), AvgPrice: d("101.2"), At: at})
	require.NoError(t, err)
	assert.True(t, res.Delta.Quantity.Equal(d("6")))
	assert.True(t, res.CashBalance.Equal(d("8988")), res.CashBalance.String())

	pf, err := s.Portfolios().GetByID(ctx, "pf-1")
	require.NoError(t, err)
	assert.True(t, pf.CashBalance.Equal(d("8988")))

	pos, err := s.Positions().Get(ctx, "pf-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(d("10")))
	assert.True(t, pos.AveragePrice.Equal(d("101.2")))
	assert.True(t, pos.CostBasis.Equal(pos.AveragePrice.Mul(pos.Quantity)))

	tr, err := s.Trades().GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, tr.Status)
	require.NotNil(t, tr.ExecutedAt)

	_, err = s.Ledger().ApplyFill(ctx, "t-1", domain.StatusPartiallyFilled, domain.Fill{Status: domain.StatusFilled, Quantity: d("10"), AvgPrice: d("101.2"), At: at})
	assert.ErrorIs(t, err, domain.ErrConflict, "replayed fill loses the compare-and-set")

	require.NoError(t, s.Trades().CreateIfNoneInFlight(ctx, pendingTrade("t-2", "AAPL", domain.SideSell, "10")))
	_, err = s.Trades().Transition(ctx, "t-2", domain.StatusPending, domain.StatusSubmitted, domain.TradeUpdate{BrokerOrderID: "b-2"})
	require.NoError(t, err)
	res, err = s.Ledger().ApplyFill(ctx, "t-2", domain.StatusSubmitted, domain.Fill{Status: domain.StatusFilled, Quantity: d("10"), AvgPrice: d("99.2"), At: at})
	require.NoError(t, err)
	assert.Nil(t, res.Position)
	assert.True(t, res.RealizedPnL.Equal(d("-20")))

	_, err = s.Positions().Get(ctx, "pf-1", "AAPL")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pf, err = s.Portfolios().GetByID(ctx, "pf-1")
	require.NoError(t, err)
	assert.True(t, pf.CashBalance.Equal(d("9980")))
	assert.True(t, pf.RealizedToday(domain.TradingDay(at)).Equal(d("-20")))
}

func Test_TripCircuitBreaker(t *testing.T) {
	s := New()
	seed(t, s, "1000")
	ctx := context.Background()

	tripped, err := s.Portfolios().TripCircuitBreaker(ctx, "pf-1", "2024-03-05")
	require.NoError(t, err)
	assert.True(t, tripped)

	tripped, err = s.Portfolios().TripCircuitBreaker(ctx, "pf-1", "2024-03-05")
	require.NoError(t, err)
	assert.False(t, tripped, "second trip on the same day is a no-op")

	tripped, err = s.Portfolios().TripCircuitBreaker(ctx, "pf-1", "2024-03-06")
	require.NoError(t, err)
	assert.True(t, tripped)

	_, err = s.Portfolios().TripCircuitBreaker(ctx, "missing", "2024-03-06")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_Bars(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	mk := func(i int) domain.PriceBar {
		return domain.PriceBar{Symbol: "SPY", Timestamp: base.AddDate(0, 0, i), Close: float64(100 + i)}
	}

	n, err := s.Bars().Append(ctx, []domain.PriceBar{mk(2), mk(0), mk(1)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Bars().Append(ctx, []domain.PriceBar{mk(1), mk(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicates are ignored")

	latest, err := s.Bars().Latest(ctx, "SPY", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 102.0, latest[0].Close)
	assert.Equal(t, 103.0, latest[1].Close)
}

func Test_Audit(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	require.NoError(t, s.Audit().Log(ctx, domain.AuditOrderPlaced, "pf-1", map[string]any{"symbol": "AAPL"}))
	require.NoError(t, s.Audit().Log(ctx, domain.AuditAlert, "pf-2", nil))
	require.NoError(t, s.Audit().Log(ctx, domain.AuditSnapshotWritten, "pf-1", nil))

	entries, err := s.Audit().List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditSnapshotWritten, entries[0].Event)

	mine, err := s.Audit().ListByPortfolio(ctx, "pf-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, domain.AuditOrderPlaced, mine[0].Event, "oldest first")
	assert.Equal(t, domain.AuditSnapshotWritten, mine[1].Event)

	until := base.Add(2 * time.Minute)
	early, err := s.Audit().ListByPortfolio(ctx, "pf-1", domain.ListOpts{Until: &until})
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.Equal(t, "AAPL", early[0].Detail["symbol"])
}

func Test_BlobStore(t *testing.T) {
	ctx := context.Background()
	b := NewBlobStore()

	require.NoError(t, b.Put(ctx, "snapshots/pf-1/2024-03-05.json", strings.NewReader("v1"), "application/json"))
	require.NoError(t, b.Put(ctx, "snapshots/pf-1/2024-03-05.json", strings.NewReader("v2"), "application/json"))
	require.NoError(t, b.Put(ctx, "snapshots/pf-0/2024-03-05.json", strings.NewReader("x"), "application/json"))

	got, ok := b.Object("snapshots/pf-1/2024-03-05.json")
	require.True(t, ok)
	assert.Equal(t, "v2", string(got))
	got[0] = 'z'
	again, _ := b.Object("snapshots/pf-1/2024-03-05.json")
	assert.Equal(t, "v2", string(again))

	_, ok = b.Object("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"snapshots/pf-0/2024-03-05.json", "snapshots/pf-1/2024-03-05.json"}, b.Paths())
}
