package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// drainTimeout bounds delivery of alerts still buffered at shutdown.
const drainTimeout = 10 * time.Second

// Queue is a bounded, non-blocking AlertSink. Emit enqueues or, when the
// buffer is full, drops the alert with a warning. Run drains the queue into
// a downstream sink until its context is done.
type Queue struct {
	ch      chan domain.Alert
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewQueue creates a Queue buffering up to size alerts.
func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		ch:     make(chan domain.Alert, size),
		logger: logger.With(slog.String("component", "alert_queue")),
	}
}

// Emit enqueues a without blocking.
func (q *Queue) Emit(ctx context.Context, a domain.Alert) {
	select {
	case q.ch <- a:
	default:
		n := q.dropped.Add(1)
		q.logger.WarnContext(ctx, "alert_queue: full, alert dropped",
			slog.String("kind", string(a.Kind)),
			slog.String("symbol", a.Symbol),
			slog.Int64("dropped_total", n),
		)
	}
}

// Len is the number of buffered alerts.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped is the number of alerts discarded because the buffer was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Run forwards alerts to sink until ctx is done, then delivers whatever is
// still buffered under a fresh deadline.
func (q *Queue) Run(ctx context.Context, sink domain.AlertSink) error {
	for {
		select {
		case a := <-q.ch:
			sink.Emit(ctx, a)
		case <-ctx.Done():
			q.Drain(sink)
			return nil
		}
	}
}

// Drain delivers every buffered alert to sink and returns how many it sent.
func (q *Queue) Drain(sink domain.AlertSink) int {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	n := 0
	for {
		select {
		case a := <-q.ch:
			sink.Emit(ctx, a)
			n++
		default:
			if n > 0 {
				q.logger.Info("alert_queue: drained", slog.Int("alerts", n))
			}
			return n
		}
	}
}

// Compile-time interface check.
var _ domain.AlertSink = (*Queue)(nil)
