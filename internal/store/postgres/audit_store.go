package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

const auditSelectCols = `id, event, COALESCE(portfolio_id, ''), detail, created_at`

// AuditStore implements domain.AuditStore using PostgreSQL. Entries are
// keyed by portfolio so a day's trail can be archived with its snapshot.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an entry. An empty portfolioID is stored as NULL.
func (s *AuditStore) Log(ctx context.Context, event domain.AuditEvent, portfolioID string, detail map[string]any) error {
	var detailJSON []byte
	if len(detail) > 0 {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("postgres: marshal %s detail: %w", event, err)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, portfolio_id, detail) VALUES ($1, NULLIF($2, ''), $3)`,
		string(event), portfolioID, detailJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries across all portfolios, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendPaging(
		`SELECT `+auditSelectCols+` FROM audit_log WHERE 1=1`,
		nil, 1, "created_at", "created_at DESC, id DESC", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return scanAudit(rows)
}

// ListByPortfolio returns portfolioID's entries in the order they were
// written.
func (s *AuditStore) ListByPortfolio(ctx context.Context, portfolioID string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := appendPaging(
		`SELECT `+auditSelectCols+` FROM audit_log WHERE portfolio_id = $1`,
		[]any{portfolioID}, 2, "created_at", "created_at, id", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries for %s: %w", portfolioID, err)
	}
	return scanAudit(rows)
}

func scanAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()
	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e          domain.AuditEntry
			event      string
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &event, &e.PortfolioID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Event = domain.AuditEvent(event)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode %s detail: %w", event, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit rows: %w", err)
	}
	return entries, nil
}
