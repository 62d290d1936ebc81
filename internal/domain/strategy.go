package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FactorType identifies a factor evaluator. The set is closed; evaluators are
// looked up by type in a table built at startup.
type FactorType string

const (
	FactorRSI            FactorType = "RSI"
	FactorMACD           FactorType = "MACD"
	FactorMACrossover    FactorType = "MA_CROSSOVER"
	FactorBollingerBands FactorType = "BOLLINGER_BANDS"
	FactorMomentum       FactorType = "MOMENTUM"
	FactorATRBreakout    FactorType = "ATR_BREAKOUT"
)

// KnownFactorTypes lists every supported factor type in canonical order.
var KnownFactorTypes = []FactorType{
	FactorRSI,
	FactorMACD,
	FactorMACrossover,
	FactorBollingerBands,
	FactorMomentum,
	FactorATRBreakout,
}

// FactorConfig configures one factor inside a strategy.
type FactorConfig struct {
	Type       FactorType         `json:"type"`
	Weight     float64            `json:"weight"`
	Enabled    bool               `json:"enabled"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Param returns the named parameter or def when unset.
func (f FactorConfig) Param(name string, def float64) float64 {
	if v, ok := f.Parameters[name]; ok {
		return v
	}
	return def
}

// RiskManagementConfig bounds what a strategy may trade. MaxPositionSize is a
// fraction of total portfolio value; the percent fields are whole percents
// (5 means 5%). DailyLossLimit is a currency amount; zero disables the
// circuit breaker.
type RiskManagementConfig struct {
	MaxPositionSize   float64         `json:"max_position_size"`
	MaxPositions      int             `json:"max_positions"`
	StopLossPercent   float64         `json:"stop_loss_percent"`
	TakeProfitPercent *float64        `json:"take_profit_percent,omitempty"`
	DailyLossLimit    decimal.Decimal `json:"daily_loss_limit"`
}

// Strategy is a user-configured set of weighted factors applied to a universe
// of symbols on behalf of one portfolio.
type Strategy struct {
	ID              string
	PortfolioID     string
	Name            string
	Factors         []FactorConfig
	Risk            RiskManagementConfig
	Universe        []string
	SignalThreshold float64
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate reports every configuration problem at once.
func (s Strategy) Validate() error {
	var problems []string

	if strings.TrimSpace(s.ID) == "" {
		problems = append(problems, "id must not be empty")
	}
	if strings.TrimSpace(s.PortfolioID) == "" {
		problems = append(problems, "portfolio_id must not be empty")
	}
	if len(s.Universe) == 0 {
		problems = append(problems, "stock universe must not be empty")
	}
	for _, sym := range s.Universe {
		if strings.TrimSpace(sym) == "" {
			problems = append(problems, "stock universe contains an empty symbol")
			break
		}
	}
	if s.SignalThreshold < 0 || s.SignalThreshold > 1 {
		problems = append(problems, fmt.Sprintf("signal_threshold must be within [0,1], got %g", s.SignalThreshold))
	}

	for i, f := range s.Factors {
		if f.Weight < 0 || f.Weight > 1 {
			problems = append(problems, fmt.Sprintf("factors[%d] %s: weight must be within [0,1], got %g", i, f.Type, f.Weight))
		}
		for name, v := range f.Parameters {
			if strings.HasSuffix(strings.ToLower(name), "period") && v < 1 {
				problems = append(problems, fmt.Sprintf("factors[%d] %s: %s must be >= 1, got %g", i, f.Type, name, v))
			}
		}
	}

	r := s.Risk
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		problems = append(problems, fmt.Sprintf("risk: max_position_size must be within (0,1], got %g", r.MaxPositionSize))
	}
	if r.MaxPositions < 1 {
		problems = append(problems, "risk: max_positions must be >= 1")
	}
	if r.StopLossPercent < 0 || r.StopLossPercent >= 100 {
		problems = append(problems, fmt.Sprintf("risk: stop_loss_percent must be within [0,100), got %g", r.StopLossPercent))
	}
	if r.TakeProfitPercent != nil && *r.TakeProfitPercent <= 0 {
		problems = append(problems, "risk: take_profit_percent must be > 0 when set")
	}
	if r.DailyLossLimit.IsNegative() {
		problems = append(problems, "risk: daily_loss_limit must be >= 0")
	}

	if len(problems) > 0 {
		return NewValidationError("strategy "+s.ID, problems...)
	}
	return nil
}
