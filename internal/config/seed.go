package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// PortfolioSeed declares a portfolio created at startup when it does not yet
// exist. Cash is a decimal string so balances survive TOML exactly.
type PortfolioSeed struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Cash        string `toml:"cash"`
	TradingMode string `toml:"trading_mode"`
}

// FactorSeed is one [[strategies.factors]] entry.
type FactorSeed struct {
	Type       string             `toml:"type"`
	Weight     float64            `toml:"weight"`
	Enabled    *bool              `toml:"enabled"`
	Parameters map[string]float64 `toml:"parameters"`
}

// RiskSeed is a strategy's [strategies.risk] table. DailyLossLimit is a
// decimal string; empty disables the breaker.
type RiskSeed struct {
	MaxPositionSize   float64  `toml:"max_position_size"`
	MaxPositions      int      `toml:"max_positions"`
	StopLossPercent   float64  `toml:"stop_loss_percent"`
	TakeProfitPercent *float64 `toml:"take_profit_percent"`
	DailyLossLimit    string   `toml:"daily_loss_limit"`
}

// StrategySeed declares a strategy upserted at startup.
type StrategySeed struct {
	ID              string       `toml:"id"`
	PortfolioID     string       `toml:"portfolio_id"`
	Name            string       `toml:"name"`
	Universe        []string     `toml:"universe"`
	SignalThreshold float64      `toml:"signal_threshold"`
	Enabled         *bool        `toml:"enabled"`
	Factors         []FactorSeed `toml:"factors"`
	Risk            RiskSeed     `toml:"risk"`
}

func enabled(b *bool) bool { return b == nil || *b }

// Portfolio converts the seed into a domain portfolio.
func (p PortfolioSeed) Portfolio() (domain.Portfolio, error) {
	cash, err := decimal.NewFromString(strings.TrimSpace(p.Cash))
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio %s: cash %q is not a decimal", p.ID, p.Cash)
	}
	mode := domain.TradingMode(strings.ToLower(p.TradingMode))
	if mode == "" {
		mode = domain.TradingModePaper
	}
	if mode != domain.TradingModePaper && mode != domain.TradingModeLive {
		return domain.Portfolio{}, fmt.Errorf("portfolio %s: unknown trading_mode %q", p.ID, p.TradingMode)
	}
	name := p.Name
	if name == "" {
		name = p.ID
	}
	return domain.Portfolio{ID: p.ID, Name: name, CashBalance: cash, TradingMode: mode}, nil
}

// Strategy converts the seed into a domain strategy. Factors default to
// enabled, as does the strategy. Symbols are upper-cased.
func (s StrategySeed) Strategy() (domain.Strategy, error) {
	limit := decimal.Zero
	if v := strings.TrimSpace(s.Risk.DailyLossLimit); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return domain.Strategy{}, fmt.Errorf("strategy %s: daily_loss_limit %q is not a decimal", s.ID, s.Risk.DailyLossLimit)
		}
		limit = d
	}

	factors := make([]domain.FactorConfig, 0, len(s.Factors))
	for _, f := range s.Factors {
		factors = append(factors, domain.FactorConfig{
			Type:       domain.FactorType(strings.ToUpper(f.Type)),
			Weight:     f.Weight,
			Enabled:    enabled(f.Enabled),
			Parameters: f.Parameters,
		})
	}
	universe := make([]string, 0, len(s.Universe))
	for _, sym := range s.Universe {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			universe = append(universe, sym)
		}
	}
	name := s.Name
	if name == "" {
		name = s.ID
	}

	strat := domain.Strategy{
		ID:          s.ID,
		PortfolioID: s.PortfolioID,
		Name:        name,
		Factors:     factors,
		Risk: domain.RiskManagementConfig{
			MaxPositionSize:   s.Risk.MaxPositionSize,
			MaxPositions:      s.Risk.MaxPositions,
			StopLossPercent:   s.Risk.StopLossPercent,
			TakeProfitPercent: s.Risk.TakeProfitPercent,
			DailyLossLimit:    limit,
		},
		Universe:        universe,
		SignalThreshold: s.SignalThreshold,
		Enabled:         enabled(s.Enabled),
	}
	if err := strat.Validate(); err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy %s: %w", s.ID, err)
	}
	return strat, nil
}

// validateSeeds reports seed problems, including strategies that point at a
// portfolio not declared in the same file when any portfolios are declared.
func (c *Config) validateSeeds() []string {
	var errs []string
	ids := make(map[string]bool, len(c.Portfolios))
	for _, p := range c.Portfolios {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, "portfolios: id must not be empty")
			continue
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Sprintf("portfolios: duplicate id %q", p.ID))
		}
		ids[p.ID] = true
		if _, err := p.Portfolio(); err != nil {
			errs = append(errs, "portfolios: "+err.Error())
		}
	}
	if len(ids) > 1 {
		errs = append(errs, fmt.Sprintf("portfolios: %d declared, but one broker account backs exactly one portfolio", len(ids)))
	}
	seen := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("strategies: duplicate id %q", s.ID))
		}
		seen[s.ID] = true
		if _, err := s.Strategy(); err != nil {
			errs = append(errs, "strategies: "+err.Error())
			continue
		}
		if len(ids) > 0 && !ids[s.PortfolioID] {
			errs = append(errs, fmt.Sprintf("strategies: %s references undeclared portfolio %q", s.ID, s.PortfolioID))
		}
	}
	return errs
}
