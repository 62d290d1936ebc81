package domain

import (
	"context"
	"time"
)

// AuditEvent names an entry in the audit log.
type AuditEvent string

const (
	AuditAlert               AuditEvent = "alert"
	AuditOrderPlaced         AuditEvent = "order_placed"
	AuditOrderCancelled      AuditEvent = "order_cancelled"
	AuditPositionsReconciled AuditEvent = "positions_reconciled"
	AuditSnapshotWritten     AuditEvent = "snapshot_written"
)

// AuditEntry is a single audit log row. PortfolioID is empty for events
// that belong to no portfolio.
type AuditEntry struct {
	ID          int64          `json:"id"`
	Event       AuditEvent     `json:"event"`
	PortfolioID string         `json:"portfolio_id,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event AuditEvent, portfolioID string, detail map[string]any) error
	// List returns entries newest first.
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	// ListByPortfolio returns one portfolio's entries oldest first.
	ListByPortfolio(ctx context.Context, portfolioID string, opts ListOpts) ([]AuditEntry, error)
}
