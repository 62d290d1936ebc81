package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `portfolio_id, symbol, quantity, average_price, current_price,
	cost_basis, unrealized_pnl, opened_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AveragePrice, &p.CurrentPrice,
		&p.CostBasis, &p.UnrealizedPnL, &p.OpenedAt, &p.UpdatedAt,
	)
	return p, err
}

// Upsert inserts or replaces the position for (portfolio, symbol).
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	return upsertPosition(ctx, s.pool, p)
}

func upsertPosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			portfolio_id, symbol, quantity, average_price, current_price,
			cost_basis, unrealized_pnl, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), NOW())
		ON CONFLICT (portfolio_id, symbol) DO UPDATE SET
			quantity       = EXCLUDED.quantity,
			average_price  = EXCLUDED.average_price,
			current_price  = EXCLUDED.current_price,
			cost_basis     = EXCLUDED.cost_basis,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			updated_at     = NOW()`

	var opened any
	if !p.OpenedAt.IsZero() {
		opened = p.OpenedAt
	}
	_, err := q.Exec(ctx, query,
		p.PortfolioID, p.Symbol, p.Quantity, p.AveragePrice, p.CurrentPrice,
		p.CostBasis, p.UnrealizedPnL, opened,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.PortfolioID, p.Symbol, err)
	}
	return nil
}

// Get retrieves the position for (portfolio, symbol).
func (s *PositionStore) Get(ctx context.Context, portfolioID, symbol string) (domain.Position, error) {
	p, err := getPosition(ctx, s.pool, portfolioID, symbol, false)
	if err != nil {
		return domain.Position{}, err
	}
	if p == nil {
		return domain.Position{}, &domain.NotFoundError{Entity: "position", ID: portfolioID + "/" + symbol}
	}
	return *p, nil
}

// getPosition returns nil without error when no position exists.
func getPosition(ctx context.Context, q querier, portfolioID, symbol string, forUpdate bool) (*domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE portfolio_id = $1 AND symbol = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(q.QueryRow(ctx, query, portfolioID, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get position %s/%s: %w", portfolioID, symbol, err)
	}
	return &p, nil
}

// ListByPortfolio returns every position of a portfolio ordered by symbol.
func (s *PositionStore) ListByPortfolio(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE portfolio_id = $1 ORDER BY symbol`
	rows, err := s.pool.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// Delete removes the position for (portfolio, symbol). Deleting a missing
// position is not an error.
func (s *PositionStore) Delete(ctx context.Context, portfolioID, symbol string) error {
	return deletePosition(ctx, s.pool, portfolioID, symbol)
}

func deletePosition(ctx context.Context, q querier, portfolioID, symbol string) error {
	if _, err := q.Exec(ctx, `DELETE FROM positions WHERE portfolio_id = $1 AND symbol = $2`, portfolioID, symbol); err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", portfolioID, symbol, err)
	}
	return nil
}
