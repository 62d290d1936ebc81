package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/broker"
	"github.com/alanyoungcy/equitybot/internal/domain"
	"github.com/alanyoungcy/equitybot/internal/store/memory"
	"github.com/alanyoungcy/equitybot/internal/strategy"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedNow is a Tuesday during regular trading hours.
var fixedNow = time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *recordingSink) Emit(_ context.Context, a domain.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recordingSink) ofKind(kind domain.AlertKind) []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alert
	for _, a := range r.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

type staticFeed struct {
	bars map[string][]domain.PriceBar
	err  error
}

func (f *staticFeed) GetBars(_ context.Context, symbol string, _, _ time.Time) ([]domain.PriceBar, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.PriceBar, len(f.bars[symbol]))
	copy(out, f.bars[symbol])
	return out, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = buf.Bytes()
	return nil
}

// uptrend returns n daily bars closing at 100, 101, 102 and so on.
func uptrend(symbol string, n int) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	start := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.PriceBar{
			Symbol:    symbol,
			Timestamp: start.AddDate(0, 0, i),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

func trendStrategy(symbols ...string) domain.Strategy {
	return domain.Strategy{
		ID:          "strat-1",
		PortfolioID: "pf-1",
		Name:        "trend",
		Factors: []domain.FactorConfig{
			{Type: domain.FactorMACrossover, Weight: 0.6, Enabled: true},
			{Type: domain.FactorMomentum, Weight: 0.4, Enabled: true},
		},
		Risk: domain.RiskManagementConfig{
			MaxPositionSize: 0.1,
			MaxPositions:    5,
			StopLossPercent: 5,
		},
		Universe: symbols,
		Enabled:  true,
	}
}

// harness wires every service over the memory store and simulated broker.
type harness struct {
	store     *memory.Store
	sim       *broker.Simulated
	feed      *staticFeed
	alerts    *recordingSink
	lifecycle *Lifecycle
	risk      *RiskService
	exec      *ExecutionService
	tracker   *OrderTracker
	positions *PositionService
	history   *PriceHistory
	runner    *StrategyService
}

func newHarness(t *testing.T, b domain.Broker) *harness {
	t.Helper()
	logger := discardLogger()
	h := &harness{
		store:  memory.New(),
		sim:    broker.NewSimulated(logger),
		feed:   &staticFeed{bars: map[string][]domain.PriceBar{}},
		alerts: &recordingSink{},
	}
	h.sim.SetClock(func() time.Time { return fixedNow })
	if b == nil {
		b = h.sim
	}

	h.lifecycle = NewLifecycle(h.store.Trades(), h.store.Ledger(), h.alerts, logger)
	h.lifecycle.now = func() time.Time { return fixedNow }
	h.risk = NewRiskService(h.store.Portfolios(), h.store.Positions(), b, h.alerts, logger)
	h.risk.now = func() time.Time { return fixedNow }
	h.exec = NewExecutionService(h.store.Trades(), b, h.lifecycle, h.store.Audit(), logger)
	h.exec.now = func() time.Time { return fixedNow }
	h.tracker = NewOrderTracker(h.store.Trades(), b, h.lifecycle, logger)
	h.positions = NewPositionService(h.store.Portfolios(), h.store.Positions(), h.store.Trades(), b, h.alerts, h.store.Audit(), logger)
	h.positions.now = func() time.Time { return fixedNow }
	h.history = NewPriceHistory(h.feed, h.store.Bars(), logger)
	h.history.now = func() time.Time { return fixedNow }
	h.runner = NewStrategyService(
		h.store.Strategies(),
		h.store.Portfolios(),
		h.history,
		strategy.NewEvaluator(nil),
		h.risk,
		h.exec,
		b,
		h.alerts,
		RunnerConfig{BarLimit: 100},
		logger,
	)
	h.runner.now = func() time.Time { return fixedNow }
	return h
}

func (h *harness) portfolio(t *testing.T, cash string) domain.Portfolio {
	t.Helper()
	pf := domain.Portfolio{ID: "pf-1", Name: "paper", CashBalance: d(cash), TradingMode: domain.TradingModePaper}
	require.NoError(t, h.store.Portfolios().Create(context.Background(), pf))
	return pf
}

func (h *harness) hold(t *testing.T, symbol, qty, avg string) {
	t.Helper()
	pos := domain.Position{PortfolioID: "pf-1", Symbol: symbol, OpenedAt: fixedNow}
	pos.Reset(d(qty), d(avg), fixedNow)
	require.NoError(t, h.store.Positions().Upsert(context.Background(), pos))
}

func (h *harness) trades(t *testing.T) []domain.Trade {
	t.Helper()
	out, err := h.store.Trades().ListByPortfolio(context.Background(), "pf-1", domain.ListOpts{})
	require.NoError(t, err)
	return out
}
