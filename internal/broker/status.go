// Package broker implements the order execution gateway: a live Alpaca
// client, a deterministic simulated broker, and a resilience decorator.
package broker

import (
	"strings"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// statusTable maps every documented Alpaca order status onto the canonical
// lifecycle states. Orders the broker still holds open map to SUBMITTED.
var statusTable = map[string]domain.TradeStatus{
	"new":                  domain.StatusSubmitted,
	"accepted":             domain.StatusSubmitted,
	"pending_new":          domain.StatusSubmitted,
	"accepted_for_bidding": domain.StatusSubmitted,
	"pending_cancel":       domain.StatusSubmitted,
	"pending_replace":      domain.StatusSubmitted,
	"held":                 domain.StatusSubmitted,
	"suspended":            domain.StatusSubmitted,
	"calculated":           domain.StatusSubmitted,
	"stopped":              domain.StatusSubmitted,
	"done_for_day":         domain.StatusSubmitted,
	"partially_filled":     domain.StatusPartiallyFilled,
	"filled":               domain.StatusFilled,
	"canceled":             domain.StatusCancelled,
	"cancelled":            domain.StatusCancelled,
	"expired":              domain.StatusCancelled,
	"replaced":             domain.StatusCancelled,
	"rejected":             domain.StatusRejected,
}

// DocumentedStatuses lists every broker status string the table knows.
func DocumentedStatuses() []string {
	out := make([]string, 0, len(statusTable))
	for k := range statusTable {
		out = append(out, k)
	}
	return out
}

// MapStatus maps a broker status string to a canonical state. Unknown strings
// map to PENDING.
func MapStatus(raw string) domain.TradeStatus {
	if s, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return domain.StatusPending
}
