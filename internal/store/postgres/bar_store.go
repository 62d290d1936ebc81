package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// BarStore implements domain.BarStore using PostgreSQL.
type BarStore struct {
	pool *pgxpool.Pool
}

// NewBarStore creates a new BarStore backed by the given connection pool.
func NewBarStore(pool *pgxpool.Pool) *BarStore {
	return &BarStore{pool: pool}
}

// Append inserts bars with a pgx Batch. Bars already stored for (symbol,
// timestamp) are skipped via ON CONFLICT DO NOTHING. It returns how many
// rows were new.
func (s *BarStore) Append(ctx context.Context, bars []domain.PriceBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO price_bars (symbol, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, ts) DO NOTHING`
	for _, b := range bars {
		batch.Queue(query, b.Symbol, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	added := 0
	for i := range bars {
		tag, err := br.Exec()
		if err != nil {
			return added, fmt.Errorf("postgres: insert bar batch item %d: %w", i, err)
		}
		added += int(tag.RowsAffected())
	}
	return added, nil
}

// Latest returns up to limit most recent bars for symbol in ascending order.
func (s *BarStore) Latest(ctx context.Context, symbol string, limit int) ([]domain.PriceBar, error) {
	const query = `
		SELECT symbol, ts, open, high, low, close, volume FROM (
			SELECT symbol, ts, open, high, low, close, volume
			FROM price_bars WHERE symbol = $1
			ORDER BY ts DESC LIMIT $2
		) recent ORDER BY ts`
	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []domain.PriceBar
	for rows.Next() {
		var b domain.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest bars rows: %w", err)
	}
	return out, nil
}
