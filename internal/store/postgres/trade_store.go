package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The
// trades_one_in_flight partial unique index enforces the single in-flight
// trade per (portfolio, symbol, strategy).
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, portfolio_id, strategy_id, symbol, side, quantity, price,
	stop_price, order_type, status, broker_order_id, filled_quantity, filled_avg_price,
	signal, reason, created_at, updated_at, submitted_at, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t                       domain.Trade
		side, orderType, status string
		signalJSON              []byte
	)
	err := row.Scan(
		&t.ID, &t.PortfolioID, &t.StrategyID, &t.Symbol, &side, &t.Quantity, &t.Price,
		&t.StopPrice, &orderType, &status, &t.BrokerOrderID, &t.FilledQuantity, &t.FilledAvgPrice,
		&signalJSON, &t.Reason, &t.CreatedAt, &t.UpdatedAt, &t.SubmittedAt, &t.ExecutedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.OrderSide(side)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	if len(signalJSON) > 0 {
		var sig domain.Signal
		if err := json.Unmarshal(signalJSON, &sig); err != nil {
			return domain.Trade{}, fmt.Errorf("unmarshal signal: %w", err)
		}
		t.Signal = &sig
	}
	return t, nil
}

func scanTrades(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateIfNoneInFlight inserts t. The partial unique index turns a second
// in-flight trade for the same key into a unique violation, reported as
// ErrConflict.
func (s *TradeStore) CreateIfNoneInFlight(ctx context.Context, t domain.Trade) error {
	var signalJSON []byte
	if t.Signal != nil {
		b, err := json.Marshal(t.Signal)
		if err != nil {
			return fmt.Errorf("postgres: marshal signal for trade %s: %w", t.ID, err)
		}
		signalJSON = b
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO trades (
			id, portfolio_id, strategy_id, symbol, side, quantity, price,
			stop_price, order_type, status, broker_order_id, signal, reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`
	_, err := s.pool.Exec(ctx, query,
		t.ID, t.PortfolioID, t.StrategyID, t.Symbol, string(t.Side), t.Quantity, t.Price,
		t.StopPrice, string(t.OrderType), string(t.Status), t.BrokerOrderID, signalJSON, t.Reason,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s/%s/%s", t.PortfolioID, t.Symbol, t.StrategyID)}
		}
		return fmt.Errorf("postgres: create trade %s: %w", t.ID, err)
	}
	return nil
}

// GetByID retrieves a trade by id.
func (s *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	return getTrade(ctx, s.pool, id, false)
}

func getTrade(ctx context.Context, q querier, id string, forUpdate bool) (domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTrade(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, &domain.NotFoundError{Entity: "trade", ID: id}
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// Transition moves the trade from -> to with a compare-and-set on status.
func (s *TradeStore) Transition(ctx context.Context, id string, from, to domain.TradeStatus, upd domain.TradeUpdate) (domain.Trade, error) {
	if !domain.CanTransition(from, to) {
		return domain.Trade{}, fmt.Errorf("postgres: trade %s %s -> %s: %w", id, from, to, domain.ErrInvalidTransition)
	}

	const query = `
		UPDATE trades SET
			status          = $3,
			broker_order_id = COALESCE(NULLIF($4, ''), broker_order_id),
			reason          = COALESCE(NULLIF($5, ''), reason),
			submitted_at    = COALESCE($6, submitted_at),
			updated_at      = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + tradeSelectCols
	t, err := scanTrade(s.pool.QueryRow(ctx, query, id, string(from), string(to), upd.BrokerOrderID, upd.Reason, upd.SubmittedAt))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, fmt.Errorf("postgres: transition trade %s: %w", id, err)
	}

	current, gerr := s.GetByID(ctx, id)
	if gerr != nil {
		return domain.Trade{}, gerr
	}
	return domain.Trade{}, &domain.ConflictError{Entity: "trade", Key: fmt.Sprintf("%s is %s, not %s", id, current.Status, from)}
}

// ListInFlight returns every non-terminal trade, oldest first.
func (s *TradeStore) ListInFlight(ctx context.Context) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades
		WHERE status IN ('PENDING', 'SUBMITTED', 'PARTIALLY_FILLED')
		ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list in-flight trades: %w", err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan in-flight trades: %w", err)
	}
	return trades, nil
}

// ListByPortfolio returns a portfolio's trades created within the optional
// window, oldest first.
func (s *TradeStore) ListByPortfolio(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := appendPaging(
		`SELECT `+tradeSelectCols+` FROM trades WHERE portfolio_id = $1`,
		[]any{portfolioID}, 2, "created_at", "created_at, id", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", portfolioID, err)
	}
	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

func updateTradeFill(ctx context.Context, q querier, t domain.Trade) error {
	const query = `
		UPDATE trades SET
			status           = $2,
			filled_quantity  = $3,
			filled_avg_price = $4,
			executed_at      = $5,
			updated_at       = NOW()
		WHERE id = $1`
	if _, err := q.Exec(ctx, query, t.ID, string(t.Status), t.FilledQuantity, t.FilledAvgPrice, t.ExecutedAt); err != nil {
		return fmt.Errorf("postgres: update trade fill %s: %w", t.ID, err)
	}
	return nil
}
