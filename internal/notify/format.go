package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

var alertTitles = map[domain.AlertKind]string{
	domain.AlertTradeExecuted:         "Trade executed",
	domain.AlertTradeFailed:           "Trade failed",
	domain.AlertStopLossTriggered:     "Stop loss triggered",
	domain.AlertTakeProfitTriggered:   "Take profit triggered",
	domain.AlertDailyLossLimitReached: "Daily loss limit reached",
	domain.AlertStrategyError:         "Strategy error",
	domain.AlertRiskRejected:          "Order rejected by risk",
	domain.AlertPositionMismatch:      "Position mismatch",
}

// Format renders an alert as a title and a plain-text body.
func Format(a domain.Alert) (title, message string) {
	title = alertTitles[a.Kind]
	if title == "" {
		title = string(a.Kind)
	}
	if a.Symbol != "" {
		title += ": " + a.Symbol
	}

	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	if a.Side != "" && a.Quantity.IsPositive() {
		order := fmt.Sprintf("%s %s", a.Side, a.Quantity.String())
		if a.Price.IsPositive() {
			order += " @ " + a.Price.StringFixed(2)
		}
		line("Order", order)
	}
	line("Reason", a.Reason)
	line("Portfolio", a.PortfolioID)
	line("Strategy", a.StrategyID)
	line("Trade", a.TradeID)

	keys := make([]string, 0, len(a.Detail))
	for k := range a.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line(k, fmt.Sprint(a.Detail[k]))
	}
	if !a.At.IsZero() {
		line("At", a.At.In(domain.MarketLocation()).Format("2006-01-02 15:04:05 MST"))
	}
	return title, strings.TrimRight(b.String(), "\n")
}
