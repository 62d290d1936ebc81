package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/broker"
	"github.com/alanyoungcy/equitybot/internal/domain"
)

// scriptedBroker is the simulated broker with overridable order calls.
type scriptedBroker struct {
	*broker.Simulated
	submit   func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error)
	getOrder func(context.Context, string) (domain.BrokerOrder, error)
	submits  atomic.Int32
}

func (b *scriptedBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	b.submits.Add(1)
	if b.submit != nil {
		return b.submit(ctx, req)
	}
	return b.Simulated.SubmitOrder(ctx, req)
}

func (b *scriptedBroker) GetOrder(ctx context.Context, id string) (domain.BrokerOrder, error) {
	if b.getOrder != nil {
		return b.getOrder(ctx, id)
	}
	return b.Simulated.GetOrder(ctx, id)
}

func newScripted() *scriptedBroker {
	return &scriptedBroker{Simulated: broker.NewSimulated(discardLogger())}
}

func marketBuy(symbol, qty string) OrderIntent {
	return OrderIntent{
		PortfolioID:    "pf-1",
		StrategyID:     "strat-1",
		Symbol:         symbol,
		Side:           domain.SideBuy,
		Type:           domain.OrderTypeMarket,
		Quantity:       d(qty),
		ReferencePrice: d("100"),
	}
}

func Test_Execute_Fills(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.portfolio(t, "10000")
	h.sim.SetPrice("AAPL", 100)

	tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "10"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, tr.Status)
	assert.NotEmpty(t, tr.BrokerOrderID)
	require.NotNil(t, tr.SubmittedAt)
	require.NotNil(t, tr.ExecutedAt)
	assert.True(t, tr.FilledAvgPrice.Equal(d("100.05")))

	pf, err := h.store.Portfolios().GetByID(ctx, "pf-1")
	require.NoError(t, err)
	assert.True(t, pf.CashBalance.Equal(d("8999.5")), pf.CashBalance.String())

	pos, err := h.store.Positions().Get(ctx, "pf-1", "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.AveragePrice.Equal(tr.FilledAvgPrice))
	assert.True(t, pos.Quantity.Equal(d("10")))

	executed := h.alerts.ofKind(domain.AlertTradeExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, tr.ID, executed[0].TradeID)
}

func Test_Execute_Validation(t *testing.T) {
	h := newHarness(t, nil)
	h.portfolio(t, "10000")
	intent := marketBuy("", "0")
	_, err := h.exec.Execute(context.Background(), intent)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Problems, 2)
	assert.Empty(t, h.trades(t), "nothing is persisted for an invalid intent")
}

func Test_Execute_TransportFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	b := newScripted()
	b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
		return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: "test", Op: "submit", Err: context.DeadlineExceeded}
	}
	h := newHarness(t, b)
	h.portfolio(t, "10000")

	tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "1"))
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, domain.StatusPending, tr.Status)
	assert.Empty(t, tr.BrokerOrderID)
	assert.Empty(t, h.alerts.ofKind(domain.AlertTradeFailed))
}

func Test_Execute_RejectionMarksRejected(t *testing.T) {
	ctx := context.Background()
	b := newScripted()
	b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
		return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: "test", Op: "submit", StatusCode: http.StatusForbidden, Err: errors.New("insufficient buying power")}
	}
	h := newHarness(t, b)
	h.portfolio(t, "10000")

	tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "1"))
	assert.True(t, domain.IsRejection(err))
	assert.Equal(t, domain.StatusRejected, tr.Status)
	require.Len(t, h.alerts.ofKind(domain.AlertTradeFailed), 1)

	_, err = h.exec.Execute(ctx, marketBuy("AAPL", "1"))
	assert.False(t, errors.Is(err, domain.ErrConflict), "a rejected trade frees the slot")
}

func Test_Execute_ConcurrentSingleInFlight(t *testing.T) {
	ctx := context.Background()
	b := newScripted()
	b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
		return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: "test", Op: "submit", StatusCode: http.StatusServiceUnavailable, Err: errors.New("busy")}
	}
	h := newHarness(t, b)
	h.portfolio(t, "10000")

	const workers = 16
	var (
		wg        sync.WaitGroup
		conflicts atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.exec.Execute(ctx, marketBuy("AAPL", "1")); errors.Is(err, domain.ErrConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(workers-1), conflicts.Load())
	assert.Equal(t, int32(1), b.submits.Load(), "only the winning trade reaches the broker")

	inflight, err := h.store.Trades().ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.Equal(t, domain.StatusPending, inflight[0].Status)
}

func Test_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending never seen by broker cancels locally", func(t *testing.T) {
		b := newScripted()
		b.submit = func(context.Context, domain.OrderRequest) (domain.BrokerOrder, error) {
			return domain.BrokerOrder{}, &domain.ExternalServiceError{Service: "test", Op: "submit", Err: context.DeadlineExceeded}
		}
		h := newHarness(t, b)
		h.portfolio(t, "10000")
		tr, _ := h.exec.Execute(ctx, marketBuy("AAPL", "1"))

		got, err := h.exec.Cancel(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, got.Status)
	})

	t.Run("terminal trade conflicts", func(t *testing.T) {
		h := newHarness(t, nil)
		h.portfolio(t, "10000")
		tr, err := h.exec.Execute(ctx, marketBuy("AAPL", "1"))
		require.NoError(t, err)

		_, err = h.exec.Cancel(ctx, tr.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("unknown trade", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.exec.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
