// Package memory provides in-process implementations of the repository
// interfaces. A single Store backs all of them behind one mutex so that the
// ledger can update trades, portfolios and positions atomically.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Store is a goroutine-safe in-memory persistence layer.
type Store struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
	positions  map[string]map[string]domain.Position
	trades     map[string]domain.Trade
	strategies map[string]domain.Strategy
	bars       map[string][]domain.PriceBar
	audit      []domain.AuditEntry
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		portfolios: make(map[string]domain.Portfolio),
		positions:  make(map[string]map[string]domain.Position),
		trades:     make(map[string]domain.Trade),
		strategies: make(map[string]domain.Strategy),
		bars:       make(map[string][]domain.PriceBar),
		now:        time.Now,
	}
}

// SetClock replaces the time source used to stamp rows.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Portfolios returns the store as a PortfolioStore.
func (s *Store) Portfolios() *PortfolioStore { return &PortfolioStore{s} }

// Positions returns the store as a PositionStore.
func (s *Store) Positions() *PositionStore { return &PositionStore{s} }

// Trades returns the store as a TradeStore.
func (s *Store) Trades() *TradeStore { return &TradeStore{s} }

// Ledger returns the store as a LedgerStore.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{s} }

// Strategies returns the store as a StrategyStore.
func (s *Store) Strategies() *StrategyStore { return &StrategyStore{s} }

// Bars returns the store as a BarStore.
func (s *Store) Bars() *BarStore { return &BarStore{s} }

// Audit returns the store as an AuditStore.
func (s *Store) Audit() *AuditStore { return &AuditStore{s} }

// PortfolioStore implements domain.PortfolioStore.
type PortfolioStore struct{ s *Store }

func (p *PortfolioStore) Create(_ context.Context, pf domain.Portfolio) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, ok := p.s.portfolios[pf.ID]; ok {
		return &domain.ConflictError{Entity: "portfolio", Key: pf.ID}
	}
	now := p.s.now().UTC()
	if pf.CreatedAt.IsZero() {
		pf.CreatedAt = now
	}
	pf.UpdatedAt = now
	p.s.portfolios[pf.ID] = pf
	return nil
}

func (p *PortfolioStore) GetByID(_ context.Context, id string) (domain.Portfolio, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pf, ok := p.s.portfolios[id]
	if !ok {
		return domain.Portfolio{}, &domain.NotFoundError{Entity: "portfolio", ID: id}
	}
	return pf, nil
}

func (p *PortfolioStore) List(_ context.Context) ([]domain.Portfolio, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	out := make([]domain.Portfolio, 0, len(p.s.portfolios))
	for _, pf := range p.s.portfolios {
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p *PortfolioStore) TripCircuitBreaker(_ context.Context, id, day string) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pf, ok := p.s.portfolios[id]
	if !ok {
		return false, &domain.NotFoundError{Entity: "portfolio", ID: id}
	}
	if pf.CircuitBreakerDate == day {
		return false, nil
	}
	pf.CircuitBreakerDate = day
	pf.UpdatedAt = p.s.now().UTC()
	p.s.portfolios[id] = pf
	return true, nil
}

// PositionStore implements domain.PositionStore.
type PositionStore struct{ s *Store }

func (p *PositionStore) Upsert(_ context.Context, pos domain.Position) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.putPositionLocked(pos)
	return nil
}

func (s *Store) putPositionLocked(pos domain.Position) {
	book, ok := s.positions[pos.PortfolioID]
	if !ok {
		book = make(map[string]domain.Position)
		s.positions[pos.PortfolioID] = book
	}
	book[pos.Symbol] = pos
}

func (s *Store) positionLocked(portfolioID, symbol string) *domain.Position {
	pos, ok := s.positions[portfolioID][symbol]
	if !ok {
		return nil
	}
	return &pos
}

func (p *PositionStore) Get(_ context.Context, portfolioID, symbol string) (domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pos := p.s.positionLocked(portfolioID, symbol)
	if pos == nil {
		return domain.Position{}, &domain.NotFoundError{Entity: "position", ID: portfolioID + "/" + symbol}
	}
	return *pos, nil
}

func (p *PositionStore) ListByPortfolio(_ context.Context, portfolioID string) ([]domain.Position, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	book := p.s.positions[portfolioID]
	out := make([]domain.Position, 0, len(book))
	for _, pos := range book {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (p *PositionStore) Delete(_ context.Context, portfolioID, symbol string) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	delete(p.s.positions[portfolioID], symbol)
	return nil
}

// TradeStore implements domain.TradeStore.
type TradeStore struct{ s *Store }

func inFlight(st domain.TradeStatus) bool { return !st.Terminal() }

func (t *TradeStore) CreateIfNoneInFlight(_ context.Context, tr domain.Trade) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.trades[tr.ID]; ok {
		return &domain.ConflictError{Entity: "trade", Key: tr.ID}
	}
	for _, existing := range t.s.trades {
		if existing.PortfolioID == tr.PortfolioID &&
			existing.Symbol == tr.Symbol &&
			existing.StrategyID == tr.StrategyID &&
			inFlight(existing.Status) {
			return &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s/%s/%s", tr.PortfolioID, tr.Symbol, tr.StrategyID)}
		}
	}
	now := t.s.now().UTC()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = now
	}
	tr.UpdatedAt = now
	t.s.trades[tr.ID] = tr
	return nil
}

func (t *TradeStore) GetByID(_ context.Context, id string) (domain.Trade, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tr, ok := t.s.trades[id]
	if !ok {
		return domain.Trade{}, &domain.NotFoundError{Entity: "trade", ID: id}
	}
	return tr, nil
}

func (t *TradeStore) Transition(_ context.Context, id string, from, to domain.TradeStatus, upd domain.TradeUpdate) (domain.Trade, error) {
	if !domain.CanTransition(from, to) {
		return domain.Trade{}, fmt.Errorf("memory: trade %s %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	tr, ok := t.s.trades[id]
	if !ok {
		return domain.Trade{}, &domain.NotFoundError{Entity: "trade", ID: id}
	}
	if tr.Status != from {
		return domain.Trade{}, &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s is %s, not %s", id, tr.Status, from)}
	}
	tr.Status = to
	if upd.BrokerOrderID != "" {
		tr.BrokerOrderID = upd.BrokerOrderID
	}
	if upd.Reason != "" {
		tr.Reason = upd.Reason
	}
	if upd.SubmittedAt != nil {
		at := *upd.SubmittedAt
		tr.SubmittedAt = &at
	}
	tr.UpdatedAt = t.s.now().UTC()
	t.s.trades[id] = tr
	return tr, nil
}

func (t *TradeStore) ListInFlight(_ context.Context) ([]domain.Trade, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []domain.Trade
	for _, tr := range t.s.trades {
		if inFlight(tr.Status) {
			out = append(out, tr)
		}
	}
	sortTrades(out)
	return out, nil
}

func (t *TradeStore) ListByPortfolio(_ context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Trade, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []domain.Trade
	for _, tr := range t.s.trades {
		if tr.PortfolioID == portfolioID && inWindow(tr.CreatedAt, opts) {
			out = append(out, tr)
		}
	}
	sortTrades(out)
	return page(out, opts), nil
}

func sortTrades(ts []domain.Trade) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// LedgerStore implements domain.LedgerStore.
type LedgerStore struct{ s *Store }

func (l *LedgerStore) ApplyFill(_ context.Context, tradeID string, from domain.TradeStatus, fill domain.Fill) (domain.FillResult, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()

	tr, ok := l.s.trades[tradeID]
	if !ok {
		return domain.FillResult{}, &domain.NotFoundError{Entity: "trade", ID: tradeID}
	}
	if tr.Status != from {
		return domain.FillResult{}, &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s is %s, not %s", tradeID, tr.Status, from)}
	}
	pf, ok := l.s.portfolios[tr.PortfolioID]
	if !ok {
		return domain.FillResult{}, &domain.NotFoundError{Entity: "portfolio", ID: tr.PortfolioID}
	}

	res, nextPF, err := domain.Settle(tr, pf, l.s.positionLocked(tr.PortfolioID, tr.Symbol), fill)
	if err != nil {
		return domain.FillResult{}, fmt.Errorf("memory: apply fill: %w", err)
	}

	l.s.trades[tradeID] = res.Trade
	l.s.portfolios[pf.ID] = nextPF
	if res.Position == nil {
		delete(l.s.positions[tr.PortfolioID], tr.Symbol)
	} else {
		l.s.putPositionLocked(*res.Position)
	}
	return res, nil
}

// StrategyStore implements domain.StrategyStore.
type StrategyStore struct{ s *Store }

func (st *StrategyStore) Upsert(_ context.Context, strat domain.Strategy) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	now := st.s.now().UTC()
	if prev, ok := st.s.strategies[strat.ID]; ok {
		strat.CreatedAt = prev.CreatedAt
	} else if strat.CreatedAt.IsZero() {
		strat.CreatedAt = now
	}
	strat.UpdatedAt = now
	st.s.strategies[strat.ID] = strat
	return nil
}

func (st *StrategyStore) GetByID(_ context.Context, id string) (domain.Strategy, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	strat, ok := st.s.strategies[id]
	if !ok {
		return domain.Strategy{}, &domain.NotFoundError{Entity: "strategy", ID: id}
	}
	return strat, nil
}

func (st *StrategyStore) ListEnabled(_ context.Context) ([]domain.Strategy, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	var out []domain.Strategy
	for _, strat := range st.s.strategies {
		if strat.Enabled {
			out = append(out, strat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BarStore implements domain.BarStore.
type BarStore struct{ s *Store }

func (b *BarStore) Append(_ context.Context, bars []domain.PriceBar) (int, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	added := 0
	touched := make(map[string]bool)
	for _, bar := range bars {
		series := b.s.bars[bar.Symbol]
		dup := false
		for _, have := range series {
			if have.Timestamp.Equal(bar.Timestamp) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		b.s.bars[bar.Symbol] = append(series, bar)
		touched[bar.Symbol] = true
		added++
	}
	for sym := range touched {
		series := b.s.bars[sym]
		sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
	}
	return added, nil
}

func (b *BarStore) Latest(_ context.Context, symbol string, limit int) ([]domain.PriceBar, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	series := b.s.bars[symbol]
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]domain.PriceBar, len(series))
	copy(out, series)
	return out, nil
}

// AuditStore implements domain.AuditStore.
type AuditStore struct{ s *Store }

func (a *AuditStore) Log(_ context.Context, event domain.AuditEvent, portfolioID string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:          int64(len(a.s.audit) + 1),
		Event:       event,
		PortfolioID: portfolioID,
		Detail:      detail,
		CreatedAt:   a.s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (a *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(a.s.audit))
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		if e := a.s.audit[i]; inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

// ListByPortfolio returns portfolioID's entries oldest first.
func (a *AuditStore) ListByPortfolio(_ context.Context, portfolioID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.s.audit {
		if e.PortfolioID == portfolioID && inWindow(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

func inWindow(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	return opts.Until == nil || t.Before(*opts.Until)
}

var (
	_ domain.PortfolioStore = (*PortfolioStore)(nil)
	_ domain.PositionStore  = (*PositionStore)(nil)
	_ domain.TradeStore     = (*TradeStore)(nil)
	_ domain.LedgerStore    = (*LedgerStore)(nil)
	_ domain.StrategyStore  = (*StrategyStore)(nil)
	_ domain.BarStore       = (*BarStore)(nil)
	_ domain.AuditStore     = (*AuditStore)(nil)
)
