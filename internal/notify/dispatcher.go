package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// Bus channel and stream the dispatcher writes alerts to.
const (
	AlertChannel = "alerts"
	AlertStream  = "alerts:log"
)

// Dispatcher delivers one alert to every configured outlet: the Notifier's
// senders, the signal bus (channel and stream) and the audit log. Any outlet
// may be nil.
type Dispatcher struct {
	notifier *Notifier
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(notifier *Notifier, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		bus:      bus,
		audit:    audit,
		logger:   logger.With(slog.String("component", "alert_dispatcher")),
	}
}

// Deliver sends a to every outlet and joins their failures.
func (d *Dispatcher) Deliver(ctx context.Context, a domain.Alert) error {
	var errs []error

	if d.notifier != nil && d.notifier.Enabled() {
		title, msg := Format(a)
		if err := d.notifier.Notify(ctx, string(a.Kind), title, msg); err != nil {
			errs = append(errs, err)
		}
	}

	if d.bus != nil {
		payload, err := json.Marshal(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify: marshal alert: %w", err))
		} else {
			if err := d.bus.Publish(ctx, AlertChannel, payload); err != nil {
				errs = append(errs, err)
			}
			if err := d.bus.StreamAppend(ctx, AlertStream, payload); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if d.audit != nil {
		detail := map[string]any{"kind": string(a.Kind)}
		for k, v := range map[string]string{
			"strategy_id": a.StrategyID,
			"trade_id":    a.TradeID,
			"symbol":      a.Symbol,
			"reason":      a.Reason,
		} {
			if v != "" {
				detail[k] = v
			}
		}
		if err := d.audit.Log(ctx, domain.AuditAlert, a.PortfolioID, detail); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Emit delivers synchronously and logs failures at warn; it never fails the
// caller.
func (d *Dispatcher) Emit(ctx context.Context, a domain.Alert) {
	d.logger.InfoContext(ctx, "alert_dispatcher: alert",
		slog.String("kind", string(a.Kind)),
		slog.String("portfolio_id", a.PortfolioID),
		slog.String("symbol", a.Symbol),
		slog.String("reason", a.Reason),
	)
	if err := d.Deliver(ctx, a); err != nil {
		d.logger.WarnContext(ctx, "alert_dispatcher: delivery failed",
			slog.String("kind", string(a.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.AlertSink = (*Dispatcher)(nil)
