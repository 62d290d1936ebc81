package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

// NewPortfolioStore creates a new PortfolioStore backed by the given connection pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `id, name, cash_balance, trading_mode, daily_realized_pnl,
	daily_pnl_date, circuit_breaker_date, created_at, updated_at`

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	var mode string
	err := row.Scan(
		&p.ID, &p.Name, &p.CashBalance, &mode, &p.DailyRealizedPnL,
		&p.DailyPnLDate, &p.CircuitBreakerDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Portfolio{}, err
	}
	p.TradingMode = domain.TradingMode(mode)
	return p, nil
}

// Create inserts a new portfolio. A duplicate id yields ErrConflict.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	mode := p.TradingMode
	if mode == "" {
		mode = domain.TradingModePaper
	}
	const query = `
		INSERT INTO portfolios (
			id, name, cash_balance, trading_mode, daily_realized_pnl,
			daily_pnl_date, circuit_breaker_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.CashBalance, string(mode), p.DailyRealizedPnL,
		p.DailyPnLDate, p.CircuitBreakerDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "portfolio", Key: p.ID}
		}
		return fmt.Errorf("postgres: create portfolio %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a portfolio by id.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	return getPortfolio(ctx, s.pool, id, false)
}

func getPortfolio(ctx context.Context, q querier, id string, forUpdate bool) (domain.Portfolio, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolios WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPortfolio(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Portfolio{}, &domain.NotFoundError{Entity: "portfolio", ID: id}
		}
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// List returns every portfolio ordered by id.
func (s *PortfolioStore) List(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+portfolioSelectCols+` FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list portfolios rows: %w", err)
	}
	return out, nil
}

// TripCircuitBreaker records day as the breaker date. It reports false when
// the breaker was already tripped for day.
func (s *PortfolioStore) TripCircuitBreaker(ctx context.Context, id, day string) (bool, error) {
	const query = `
		UPDATE portfolios
		SET circuit_breaker_date = $2, updated_at = NOW()
		WHERE id = $1 AND circuit_breaker_date <> $2`
	tag, err := s.pool.Exec(ctx, query, id, day)
	if err != nil {
		return false, fmt.Errorf("postgres: trip circuit breaker %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func updatePortfolioLedger(ctx context.Context, q querier, p domain.Portfolio) error {
	const query = `
		UPDATE portfolios
		SET cash_balance = $2, daily_realized_pnl = $3, daily_pnl_date = $4, updated_at = NOW()
		WHERE id = $1`
	if _, err := q.Exec(ctx, query, p.ID, p.CashBalance, p.DailyRealizedPnL, p.DailyPnLDate); err != nil {
		return fmt.Errorf("postgres: update portfolio %s: %w", p.ID, err)
	}
	return nil
}
