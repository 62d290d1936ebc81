package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// priceTolerance is how far a local average price may drift from the
// broker's before it is treated as a mismatch.
var priceTolerance = decimal.RequireFromString("0.01")

// SyncSummary counts what one reconciliation pass changed.
type SyncSummary struct {
	PortfolioID string
	Matched     int
	Created     int
	Removed     int
	Corrected   int
	// Deferred counts symbols left alone because a trade for them is still
	// in flight; the next poll books the fill.
	Deferred int
}

// Mismatches is the number of positions that disagreed with the broker.
func (s SyncSummary) Mismatches() int { return s.Created + s.Removed + s.Corrected }

// PositionService reconciles local positions with the broker, which is
// authoritative. The broker account backs exactly one portfolio; Sync refuses
// to run when the store holds more.
type PositionService struct {
	portfolios domain.PortfolioStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	broker     domain.Broker
	alerts     domain.AlertSink
	audit      domain.AuditStore
	now        func() time.Time
	logger     *slog.Logger
}

// NewPositionService creates a PositionService. audit may be nil.
func NewPositionService(
	portfolios domain.PortfolioStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	broker domain.Broker,
	alerts domain.AlertSink,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		portfolios: portfolios,
		positions:  positions,
		trades:     trades,
		broker:     broker,
		alerts:     alerts,
		audit:      audit,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "position_service")),
	}
}

// Sync makes the local positions of portfolioID match the broker. Missing,
// extra and mismatched positions are corrected locally and each raises a
// positionMismatch alert. Symbols with an in-flight trade are deferred.
func (s *PositionService) Sync(ctx context.Context, portfolioID string) (SyncSummary, error) {
	if err := s.CheckAccount(ctx); err != nil {
		return SyncSummary{PortfolioID: portfolioID}, err
	}
	return s.sync(ctx, portfolioID)
}

func (s *PositionService) sync(ctx context.Context, portfolioID string) (SyncSummary, error) {
	sum := SyncSummary{PortfolioID: portfolioID}

	pending, err := s.inFlightSymbols(ctx, portfolioID)
	if err != nil {
		return sum, err
	}
	remote, err := s.broker.GetPositions(ctx)
	if err != nil {
		return sum, fmt.Errorf("position_service: broker positions: %w", err)
	}
	local, err := s.positions.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return sum, fmt.Errorf("position_service: local positions: %w", err)
	}

	now := s.now().UTC()
	byLocal := make(map[string]domain.Position, len(local))
	for _, p := range local {
		byLocal[p.Symbol] = p
	}
	seen := make(map[string]bool, len(remote))

	for _, bp := range remote {
		if !bp.Quantity.IsPositive() {
			s.logger.WarnContext(ctx, "position_service: ignoring non-long broker position",
				slog.String("symbol", bp.Symbol),
				slog.String("qty", bp.Quantity.String()),
			)
			continue
		}
		seen[bp.Symbol] = true
		if pending[bp.Symbol] {
			s.deferSymbol(ctx, portfolioID, bp.Symbol, &sum)
			continue
		}

		pos, held := byLocal[bp.Symbol]
		reason := ""
		switch {
		case !held:
			pos = domain.Position{PortfolioID: portfolioID, Symbol: bp.Symbol, OpenedAt: now}
			reason = domain.ReasonMissingLocally
		case !pos.Quantity.Equal(bp.Quantity):
			reason = domain.ReasonQuantityMismatch
		case pos.AveragePrice.Sub(bp.AvgPrice).Abs().GreaterThan(priceTolerance):
			reason = domain.ReasonPriceMismatch
		}

		before := pos
		if reason != "" {
			pos.Reset(bp.Quantity, bp.AvgPrice, now)
		}
		if bp.CurrentPrice.IsPositive() {
			pos.Mark(bp.CurrentPrice, now)
		}
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return sum, fmt.Errorf("position_service: upsert %s: %w", bp.Symbol, err)
		}

		switch reason {
		case "":
			sum.Matched++
			continue
		case domain.ReasonMissingLocally:
			sum.Created++
		default:
			sum.Corrected++
		}
		s.mismatch(ctx, portfolioID, bp.Symbol, reason, map[string]any{
			"local_quantity":  before.Quantity.String(),
			"local_avg_price": before.AveragePrice.String(),
			"broker_quantity": bp.Quantity.String(),
			"broker_avg":      bp.AvgPrice.String(),
		})
	}

	for _, p := range local {
		if seen[p.Symbol] {
			continue
		}
		if pending[p.Symbol] {
			s.deferSymbol(ctx, portfolioID, p.Symbol, &sum)
			continue
		}
		if err := s.positions.Delete(ctx, portfolioID, p.Symbol); err != nil {
			return sum, fmt.Errorf("position_service: delete %s: %w", p.Symbol, err)
		}
		sum.Removed++
		s.mismatch(ctx, portfolioID, p.Symbol, domain.ReasonMissingAtBroker, map[string]any{
			"local_quantity":  p.Quantity.String(),
			"local_avg_price": p.AveragePrice.String(),
		})
	}

	if sum.Mismatches() > 0 {
		s.logger.InfoContext(ctx, "position_service: positions reconciled",
			slog.String("portfolio_id", portfolioID),
			slog.Int("matched", sum.Matched),
			slog.Int("created", sum.Created),
			slog.Int("removed", sum.Removed),
			slog.Int("corrected", sum.Corrected),
			slog.Int("deferred", sum.Deferred),
		)
		if s.audit != nil {
			if err := s.audit.Log(ctx, domain.AuditPositionsReconciled, portfolioID, map[string]any{
				"created":   sum.Created,
				"removed":   sum.Removed,
				"corrected": sum.Corrected,
				"deferred":  sum.Deferred,
			}); err != nil {
				s.logger.WarnContext(ctx, "position_service: audit log failed", slog.String("error", err.Error()))
			}
		}
	}
	return sum, nil
}

// SyncAll reconciles every portfolio. One portfolio failing does not stop the
// others; the failures are joined into the returned error.
func (s *PositionService) SyncAll(ctx context.Context) ([]SyncSummary, error) {
	pfs, err := s.portfolios.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list portfolios: %w", err)
	}
	if err := sharedAccount(pfs); err != nil {
		return nil, err
	}
	var (
		out  []SyncSummary
		errs []error
	)
	for _, pf := range pfs {
		sum, err := s.sync(ctx, pf.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "position_service: sync failed",
				slog.String("portfolio_id", pf.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		out = append(out, sum)
	}
	return out, errors.Join(errs...)
}

// MarkToMarket refreshes current price and unrealized P&L of every position
// in portfolioID from live quotes and returns how many were updated.
func (s *PositionService) MarkToMarket(ctx context.Context, portfolioID string) (int, error) {
	positions, err := s.positions.ListByPortfolio(ctx, portfolioID)
	if err != nil {
		return 0, fmt.Errorf("position_service: list positions: %w", err)
	}
	updated := 0
	for _, p := range positions {
		q, err := s.broker.GetLatestQuote(ctx, p.Symbol)
		if err != nil || q.Mid() <= 0 {
			s.logger.WarnContext(ctx, "position_service: no quote for mark",
				slog.String("symbol", p.Symbol),
				slog.Any("error", err),
			)
			continue
		}
		p.Mark(decimal.NewFromFloat(q.Mid()), s.now().UTC())
		if err := s.positions.Upsert(ctx, p); err != nil {
			return updated, fmt.Errorf("position_service: upsert %s: %w", p.Symbol, err)
		}
		updated++
	}
	return updated, nil
}

func (s *PositionService) mismatch(ctx context.Context, portfolioID, symbol, reason string, detail map[string]any) {
	s.logger.WarnContext(ctx, "position_service: position mismatch",
		slog.String("portfolio_id", portfolioID),
		slog.String("symbol", symbol),
		slog.String("reason", reason),
	)
	s.alerts.Emit(ctx, domain.Alert{
		Kind:        domain.AlertPositionMismatch,
		PortfolioID: portfolioID,
		Symbol:      symbol,
		Reason:      reason,
		Detail:      detail,
		At:          s.now().UTC(),
	})
}

// CheckAccount fails with a validation error when more than one portfolio
// is stored, since all of them would reconcile against the same account.
func (s *PositionService) CheckAccount(ctx context.Context) error {
	pfs, err := s.portfolios.List(ctx)
	if err != nil {
		return fmt.Errorf("position_service: list portfolios: %w", err)
	}
	return sharedAccount(pfs)
}

// sharedAccount rejects reconciling several portfolios against one broker
// account: a holding of one would be copied into all the others.
func sharedAccount(pfs []domain.Portfolio) error {
	if len(pfs) <= 1 {
		return nil
	}
	ids := make([]string, 0, len(pfs))
	for _, pf := range pfs {
		ids = append(ids, pf.ID)
	}
	return fmt.Errorf("position_service: %w", domain.NewValidationError("portfolios",
		fmt.Sprintf("%d portfolios (%s) share one broker account", len(pfs), strings.Join(ids, ", "))))
}

// inFlightSymbols returns the symbols of portfolioID with a non-terminal
// trade. The broker may already hold their fills while the ledger does not.
func (s *PositionService) inFlightSymbols(ctx context.Context, portfolioID string) (map[string]bool, error) {
	trades, err := s.trades.ListInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: in-flight trades: %w", err)
	}
	out := make(map[string]bool)
	for _, t := range trades {
		if t.PortfolioID == portfolioID {
			out[t.Symbol] = true
		}
	}
	return out, nil
}

func (s *PositionService) deferSymbol(ctx context.Context, portfolioID, symbol string, sum *SyncSummary) {
	sum.Deferred++
	s.logger.InfoContext(ctx, "position_service: trade in flight, deferring symbol",
		slog.String("portfolio_id", portfolioID),
		slog.String("symbol", symbol),
	)
}
