package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// MaxCallTimeout caps every brokerage call.
const MaxCallTimeout = 60 * time.Second

// ResilientConfig tunes the decorator.
type ResilientConfig struct {
	Timeout      time.Duration
	ReadRetries  int
	RetryBackoff time.Duration
	RateLimitKey string
	// QuoteTTL is how long a fetched quote stays usable as a fallback.
	QuoteTTL time.Duration
}

// Resilient wraps a Broker with per-call timeouts, bounded retries for
// idempotent reads and an optional distributed rate limit. Order submission
// and cancellation are never retried here; the client order id lets the
// tracker recover an ambiguous submit.
type Resilient struct {
	inner   domain.Broker
	limiter domain.RateLimiter
	quotes  domain.QuoteCache
	cfg     ResilientConfig
	logger  *slog.Logger
}

// NewResilient decorates inner. limiter may be nil.
func NewResilient(inner domain.Broker, limiter domain.RateLimiter, cfg ResilientConfig, logger *slog.Logger) *Resilient {
	if cfg.Timeout <= 0 || cfg.Timeout > MaxCallTimeout {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = time.Minute
	}
	if cfg.RateLimitKey == "" {
		cfg.RateLimitKey = "broker:" + inner.Name()
	}
	return &Resilient{
		inner:   inner,
		limiter: limiter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "broker"), slog.String("broker", inner.Name())),
	}
}

// WithQuoteCache makes GetLatestQuote write through to c and serve the cached
// quote when the brokerage read fails.
func (r *Resilient) WithQuoteCache(c domain.QuoteCache) *Resilient {
	r.quotes = c
	return r
}

// Inner returns the wrapped broker.
func (r *Resilient) Inner() domain.Broker { return r.inner }

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx, r.cfg.RateLimitKey); err != nil {
		return &domain.ExternalServiceError{Service: r.inner.Name(), Op: "rate limit", Err: err}
	}
	return nil
}

func once[T any](ctx context.Context, r *Resilient, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	var zero T
	if err := r.wait(ctx); err != nil {
		return zero, err
	}
	return fn(ctx)
}

func read[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 0; ; attempt++ {
		v, err = once(ctx, r, fn)
		if err == nil || !domain.IsTemporary(err) || attempt >= r.cfg.ReadRetries {
			return v, err
		}
		delay := r.cfg.RetryBackoff << attempt
		r.logger.WarnContext(ctx, "broker: retrying read",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, fmt.Errorf("broker: %s: %w", op, err)
		case <-timer.C:
		}
	}
}

func (r *Resilient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	return once(ctx, r, func(ctx context.Context) (domain.BrokerOrder, error) { return r.inner.SubmitOrder(ctx, req) })
}

func (r *Resilient) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := once(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.inner.CancelOrder(ctx, brokerOrderID)
	})
	return err
}

func (r *Resilient) GetOrder(ctx context.Context, brokerOrderID string) (domain.BrokerOrder, error) {
	return read(ctx, r, "get order", func(ctx context.Context) (domain.BrokerOrder, error) {
		return r.inner.GetOrder(ctx, brokerOrderID)
	})
}

func (r *Resilient) GetOrderByClientID(ctx context.Context, clientOrderID string) (domain.BrokerOrder, error) {
	return read(ctx, r, "get order by client id", func(ctx context.Context) (domain.BrokerOrder, error) {
		return r.inner.GetOrderByClientID(ctx, clientOrderID)
	})
}

func (r *Resilient) GetPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	return read(ctx, r, "get positions", r.inner.GetPositions)
}

func (r *Resilient) GetPosition(ctx context.Context, symbol string) (domain.BrokerPosition, error) {
	return read(ctx, r, "get position", func(ctx context.Context) (domain.BrokerPosition, error) {
		return r.inner.GetPosition(ctx, symbol)
	})
}

func (r *Resilient) GetLatestQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := read(ctx, r, "get quote", func(ctx context.Context) (domain.Quote, error) {
		return r.inner.GetLatestQuote(ctx, symbol)
	})
	if r.quotes == nil {
		return q, err
	}
	if err == nil {
		if cerr := r.quotes.SetQuote(ctx, q, r.cfg.QuoteTTL); cerr != nil {
			r.logger.DebugContext(ctx, "broker: quote cache write failed", slog.String("symbol", symbol), slog.String("error", cerr.Error()))
		}
		return q, nil
	}
	cached, cerr := r.quotes.GetQuote(ctx, symbol)
	if cerr != nil {
		return q, err
	}
	r.logger.WarnContext(ctx, "broker: serving cached quote",
		slog.String("symbol", symbol),
		slog.Time("quoted_at", cached.Timestamp),
		slog.String("error", err.Error()),
	)
	return cached, nil
}

func (r *Resilient) IsMarketOpen(ctx context.Context) (bool, error) {
	return read(ctx, r, "market clock", r.inner.IsMarketOpen)
}

// GetBars forwards to the wrapped broker when it is also a bar feed.
func (r *Resilient) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.PriceBar, error) {
	feed, ok := r.inner.(domain.BarFeed)
	if !ok {
		return nil, fmt.Errorf("broker: %s does not provide bars", r.inner.Name())
	}
	return read(ctx, r, "get bars", func(ctx context.Context) ([]domain.PriceBar, error) {
		return feed.GetBars(ctx, symbol, start, end)
	})
}

var (
	_ domain.Broker  = (*Resilient)(nil)
	_ domain.BarFeed = (*Resilient)(nil)
)
