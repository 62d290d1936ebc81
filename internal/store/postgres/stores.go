package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Stores bundles every PostgreSQL-backed repository over one pool.
type Stores struct {
	Portfolios *PortfolioStore
	Positions  *PositionStore
	Trades     *TradeStore
	Ledger     *LedgerStore
	Strategies *StrategyStore
	Bars       *BarStore
	Audit      *AuditStore
}

// NewStores creates all repositories over pool.
func NewStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Portfolios: NewPortfolioStore(pool),
		Positions:  NewPositionStore(pool),
		Trades:     NewTradeStore(pool),
		Ledger:     NewLedgerStore(pool),
		Strategies: NewStrategyStore(pool),
		Bars:       NewBarStore(pool),
		Audit:      NewAuditStore(pool),
	}
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
