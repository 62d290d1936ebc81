package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// PriceHistory supplies daily bars for evaluation, archiving what it fetches
// when a BarStore is configured.
type PriceHistory struct {
	feed   domain.BarFeed
	store  domain.BarStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceHistory creates a PriceHistory. store may be nil.
func NewPriceHistory(feed domain.BarFeed, store domain.BarStore, logger *slog.Logger) *PriceHistory {
	return &PriceHistory{
		feed:   feed,
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "price_history")),
	}
}

// lookback is the calendar window that holds limit trading days with room
// for weekends and holidays.
func lookback(limit int) time.Duration {
	days := limit*7/5 + 10
	return time.Duration(days) * 24 * time.Hour
}

// Bars returns up to limit most recent bars for symbol in ascending time
// order. When the feed fails and a store is configured, the stored history
// is served instead.
func (h *PriceHistory) Bars(ctx context.Context, symbol string, limit int) ([]domain.PriceBar, error) {
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "bar limit must be > 0")
	}
	end := h.now().UTC()
	bars, err := h.feed.GetBars(ctx, symbol, end.Add(-lookback(limit)), end)
	if err != nil {
		if h.store == nil {
			return nil, fmt.Errorf("price_history: fetch %s: %w", symbol, err)
		}
		h.logger.WarnContext(ctx, "price_history: feed failed, serving stored bars",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		stored, serr := h.store.Latest(ctx, symbol, limit)
		if serr != nil || len(stored) == 0 {
			return nil, fmt.Errorf("price_history: fetch %s: %w", symbol, err)
		}
		return stored, nil
	}

	for i := range bars {
		bars[i].Symbol = symbol
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	if h.store != nil {
		added, err := h.store.Append(ctx, bars)
		if err != nil {
			h.logger.WarnContext(ctx, "price_history: append failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		} else if added > 0 {
			h.logger.DebugContext(ctx, "price_history: bars stored",
				slog.String("symbol", symbol),
				slog.Int("added", added),
			)
		}
	}

	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
