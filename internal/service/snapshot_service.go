package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Snapshot is the end-of-day record of one portfolio.
type Snapshot struct {
	TradingDay  string            `json:"trading_day"`
	GeneratedAt time.Time         `json:"generated_at"`
	Portfolio   domain.Portfolio  `json:"portfolio"`
	Positions   []domain.Position `json:"positions"`
	Trades      []domain.Trade    `json:"trades"`
	TotalValue  decimal.Decimal   `json:"total_value"`
	// Audit is the portfolio's audit trail for the day, oldest first.
	Audit []domain.AuditEntry `json:"audit"`
}

// SnapshotPath is the object key for a portfolio's snapshot on day.
func SnapshotPath(portfolioID, day string) string {
	return fmt.Sprintf("snapshots/%s/%s.json", portfolioID, day)
}

// SnapshotService archives end-of-day portfolio state to blob storage.
type SnapshotService struct {
	portfolios domain.PortfolioStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	blobs      domain.BlobWriter
	audit      domain.AuditStore
	now        func() time.Time
	logger     *slog.Logger
}

// NewSnapshotService creates a SnapshotService. audit may be nil.
func NewSnapshotService(
	portfolios domain.PortfolioStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	blobs domain.BlobWriter,
	audit domain.AuditStore,
	logger *slog.Logger,
) *SnapshotService {
	return &SnapshotService{
		portfolios: portfolios,
		positions:  positions,
		trades:     trades,
		blobs:      blobs,
		audit:      audit,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "snapshot_service")),
	}
}

// dayBounds returns the start and end of a trading day in exchange time.
func dayBounds(day string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", day, domain.MarketLocation())
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("day", "day must be YYYY-MM-DD")
	}
	return start, start.AddDate(0, 0, 1), nil
}

// Snapshot writes portfolioID's state with the trades and audit entries
// created on day and returns the object path. An empty day means today.
func (s *SnapshotService) Snapshot(ctx context.Context, portfolioID, day string) (string, error) {
	if day == "" {
		day = domain.TradingDay(s.now())
	}
	since, until, err := dayBounds(day)
	if err != nil {
		return "", err
	}

	pf, err := s.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return "", fmt.Errorf("snapshot_service: get portfolio: %w", err)
	}
	positions, err := s.positions.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return "", fmt.Errorf("snapshot_service: list positions: %w", err)
	}
	trades, err := s.trades.ListByPortfolio(ctx, portfolioID, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		return "", fmt.Errorf("snapshot_service: list trades: %w", err)
	}

	var trail []domain.AuditEntry
	if s.audit != nil {
		trail, err = s.audit.ListByPortfolio(ctx, portfolioID, domain.ListOpts{Since: &since, Until: &until})
		if err != nil {
			return "", fmt.Errorf("snapshot_service: list audit entries: %w", err)
		}
	}

	total, _ := Exposure(pf, positions, nil)
	snap := Snapshot{
		TradingDay:  day,
		GeneratedAt: s.now().UTC(),
		Portfolio:   pf,
		Positions:   positions,
		Trades:      trades,
		TotalValue:  total,
		Audit:       trail,
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot_service: encode: %w", err)
	}

	path := SnapshotPath(portfolioID, day)
	if err := s.blobs.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("snapshot_service: upload: %w", err)
	}

	s.logger.InfoContext(ctx, "snapshot_service: snapshot written",
		slog.String("portfolio_id", portfolioID),
		slog.String("path", path),
		slog.Int("positions", len(positions)),
		slog.Int("trades", len(trades)),
		slog.Int("audit_entries", len(trail)),
	)
	if s.audit != nil {
		if err := s.audit.Log(ctx, domain.AuditSnapshotWritten, portfolioID, map[string]any{
			"path":        path,
			"total_value": total.StringFixed(2),
		}); err != nil {
			s.logger.WarnContext(ctx, "snapshot_service: audit log failed", slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// SnapshotAll snapshots every portfolio for day and returns the paths
// written. Failures are joined.
func (s *SnapshotService) SnapshotAll(ctx context.Context, day string) ([]string, error) {
	pfs, err := s.portfolios.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot_service: list portfolios: %w", err)
	}
	var (
		paths []string
		errs  []error
	)
	for _, pf := range pfs {
		path, err := s.Snapshot(ctx, pf.ID, day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, errors.Join(errs...)
}
