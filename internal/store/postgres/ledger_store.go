package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// LedgerStore implements domain.LedgerStore. A fill locks the trade, the
// portfolio and the position rows, settles them in Go and writes all three
// back in one transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// ApplyFill settles fill against the trade if it is still in from.
func (s *LedgerStore) ApplyFill(ctx context.Context, tradeID string, from domain.TradeStatus, fill domain.Fill) (domain.FillResult, error) {
	var res domain.FillResult
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		t, err := getTrade(ctx, tx, tradeID, true)
		if err != nil {
			return err
		}
		if t.Status != from {
			return &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s is %s, not %s", tradeID, t.Status, from)}
		}
		pf, err := getPortfolio(ctx, tx, t.PortfolioID, true)
		if err != nil {
			return err
		}
		pos, err := getPosition(ctx, tx, t.PortfolioID, t.Symbol, true)
		if err != nil {
			return err
		}

		settled, nextPF, err := domain.Settle(t, pf, pos, fill)
		if err != nil {
			return err
		}

		if err := updateTradeFill(ctx, tx, settled.Trade); err != nil {
			return err
		}
		if err := updatePortfolioLedger(ctx, tx, nextPF); err != nil {
			return err
		}
		if settled.Position == nil {
			if err := deletePosition(ctx, tx, t.PortfolioID, t.Symbol); err != nil {
				return err
			}
		} else if err := upsertPosition(ctx, tx, *settled.Position); err != nil {
			return err
		}
		res = settled
		return nil
	})
	if err != nil {
		return domain.FillResult{}, fmt.Errorf("postgres: apply fill %s: %w", tradeID, err)
	}
	return res, nil
}
