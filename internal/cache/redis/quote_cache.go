package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol is
// stored at "<prefix>:quote:<symbol>" with fields bid, ask and ts (Unix
// nanoseconds) and expires after the TTL given to SetQuote.
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

func quoteFields(q domain.Quote) map[string]any {
	return map[string]any{
		"bid": strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask": strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"ts":  strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
}

func parseQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	q := domain.Quote{Symbol: symbol}
	for _, f := range []struct {
		name string
		dst  *float64
	}{{"bid", &q.Bid}, {"ask", &q.Ask}} {
		s, ok := vals[f.name]
		if !ok {
			return domain.Quote{}, &domain.NotFoundError{Entity: "quote", ID: symbol}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse %s %s: %w", f.name, symbol, err)
		}
		*f.dst = v
	}
	if s, ok := vals["ts"]; ok {
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
		}
		q.Timestamp = time.Unix(0, ns).UTC()
	}
	return q, nil
}

// SetQuote stores q and sets its expiry in one pipeline.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote, ttl time.Duration) error {
	key := qc.c.Key("quote", q.Symbol)
	pipe := qc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, quoteFields(q))
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns the cached quote for symbol or a NotFoundError when it is
// absent or expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.c.Key("quote", symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, &domain.NotFoundError{Entity: "quote", ID: symbol}
	}
	return parseQuote(symbol, vals)
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
