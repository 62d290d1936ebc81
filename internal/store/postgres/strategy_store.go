package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL. Factors and
// risk settings are stored as JSONB.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a new StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

const strategySelectCols = `id, portfolio_id, name, factors, risk, universe,
	signal_threshold, enabled, created_at, updated_at`

func scanStrategy(row pgx.Row) (domain.Strategy, error) {
	var (
		st                  domain.Strategy
		factorsJSON, riskJS []byte
	)
	err := row.Scan(
		&st.ID, &st.PortfolioID, &st.Name, &factorsJSON, &riskJS, &st.Universe,
		&st.SignalThreshold, &st.Enabled, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return domain.Strategy{}, err
	}
	if err := json.Unmarshal(factorsJSON, &st.Factors); err != nil {
		return domain.Strategy{}, fmt.Errorf("unmarshal factors: %w", err)
	}
	if err := json.Unmarshal(riskJS, &st.Risk); err != nil {
		return domain.Strategy{}, fmt.Errorf("unmarshal risk: %w", err)
	}
	return st, nil
}

// Upsert inserts or replaces a strategy definition.
func (s *StrategyStore) Upsert(ctx context.Context, st domain.Strategy) error {
	factorsJSON, err := json.Marshal(st.Factors)
	if err != nil {
		return fmt.Errorf("postgres: marshal factors %s: %w", st.ID, err)
	}
	riskJSON, err := json.Marshal(st.Risk)
	if err != nil {
		return fmt.Errorf("postgres: marshal risk %s: %w", st.ID, err)
	}
	universe := st.Universe
	if universe == nil {
		universe = []string{}
	}

	const query = `
		INSERT INTO strategies (
			id, portfolio_id, name, factors, risk, universe, signal_threshold, enabled, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			portfolio_id     = EXCLUDED.portfolio_id,
			name             = EXCLUDED.name,
			factors          = EXCLUDED.factors,
			risk             = EXCLUDED.risk,
			universe         = EXCLUDED.universe,
			signal_threshold = EXCLUDED.signal_threshold,
			enabled          = EXCLUDED.enabled,
			updated_at       = NOW()`
	_, err = s.pool.Exec(ctx, query,
		st.ID, st.PortfolioID, st.Name, factorsJSON, riskJSON, universe, st.SignalThreshold, st.Enabled,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", st.ID, err)
	}
	return nil
}

// GetByID retrieves a strategy by id.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (domain.Strategy, error) {
	st, err := scanStrategy(s.pool.QueryRow(ctx, `SELECT `+strategySelectCols+` FROM strategies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Strategy{}, &domain.NotFoundError{Entity: "strategy", ID: id}
		}
		return domain.Strategy{}, fmt.Errorf("postgres: get strategy %s: %w", id, err)
	}
	return st, nil
}

// ListEnabled returns every enabled strategy ordered by id.
func (s *StrategyStore) ListEnabled(ctx context.Context) ([]domain.Strategy, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+strategySelectCols+` FROM strategies WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list strategies rows: %w", err)
	}
	return out, nil
}
