package domain

import (
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
)

// TradingMode is paper or live.
type TradingMode string

const (
	TradingModePaper TradingMode = "paper"
	TradingModeLive  TradingMode = "live"
)

// Portfolio holds cash and the daily risk bookkeeping. The circuit breaker
// state is persisted so that independent job invocations agree on it.
type Portfolio struct {
	ID                 string
	Name               string
	CashBalance        decimal.Decimal
	TradingMode        TradingMode
	DailyRealizedPnL   decimal.Decimal
	DailyPnLDate       string // trading day DailyRealizedPnL belongs to
	CircuitBreakerDate string // trading day the breaker tripped on, empty if never
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RealizedToday returns the realized P&L booked on day, zero if the stored
// figure belongs to an earlier day.
func (p Portfolio) RealizedToday(day string) decimal.Decimal {
	if p.DailyPnLDate != day {
		return decimal.Zero
	}
	return p.DailyRealizedPnL
}

// BreakerTripped reports whether the daily-loss breaker is active on day.
func (p Portfolio) BreakerTripped(day string) bool {
	return p.CircuitBreakerDate != "" && p.CircuitBreakerDate == day
}

// BookRealized adds pnl to the daily realized figure, rolling it over when day
// has changed.
func (p *Portfolio) BookRealized(pnl decimal.Decimal, day string) {
	if p.DailyPnLDate != day {
		p.DailyRealizedPnL = decimal.Zero
		p.DailyPnLDate = day
	}
	p.DailyRealizedPnL = p.DailyRealizedPnL.Add(pnl)
}

var marketLocation = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// MarketLocation is the exchange time zone.
func MarketLocation() *time.Location { return marketLocation }

// TradingDay returns the exchange-local calendar date of t as YYYY-MM-DD.
// Daily risk limits reset when it changes.
func TradingDay(t time.Time) string {
	return t.In(marketLocation).Format("2006-01-02")
}
