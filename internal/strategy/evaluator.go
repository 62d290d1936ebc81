package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// DefaultSignalThreshold is the composite magnitude needed for BUY or SELL
// when a strategy does not set its own.
const DefaultSignalThreshold = 0.2

// Evaluator turns a strategy and a bar history into a Signal.
type Evaluator struct {
	registry  *Registry
	threshold float64
	now       func() time.Time
}

// NewEvaluator creates an Evaluator over reg, or DefaultRegistry when nil.
func NewEvaluator(reg *Registry) *Evaluator {
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Evaluator{registry: reg, threshold: DefaultSignalThreshold, now: time.Now}
}

// WithThreshold sets the threshold used by strategies that do not set their
// own. Non-positive values are ignored.
func (e *Evaluator) WithThreshold(tau float64) *Evaluator {
	if tau > 0 {
		e.threshold = tau
	}
	return e
}

// Threshold returns the effective signal threshold for s.
func (e *Evaluator) Threshold(s domain.Strategy) float64 {
	if s.SignalThreshold > 0 {
		return s.SignalThreshold
	}
	return e.threshold
}

// Evaluate scores every enabled, known and warmed-up factor and combines them
// as sum(weight*score)/sum(weight). Contributions are summed in a canonical
// order so the composite does not depend on how the factors are listed. A
// strategy with nothing to score always holds.
func (e *Evaluator) Evaluate(s domain.Strategy, symbol string, bars []domain.PriceBar) domain.Signal {
	at := e.now()

	scores := make([]domain.FactorScore, 0, len(s.Factors))
	for _, cfg := range s.Factors {
		if !cfg.Enabled || cfg.Weight <= 0 {
			continue
		}
		f, ok := e.registry.Lookup(cfg.Type)
		if !ok {
			continue
		}
		score, ok := f.Evaluate(bars, cfg)
		if !ok {
			continue
		}
		scores = append(scores, domain.FactorScore{Type: cfg.Type, Weight: cfg.Weight, Score: score})
	}
	if len(scores) == 0 {
		return domain.HoldSignal(symbol, at)
	}

	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Weight != b.Weight {
			return a.Weight < b.Weight
		}
		return a.Score < b.Score
	})

	var num, den float64
	for _, fs := range scores {
		num += fs.Weight * fs.Score
		den += fs.Weight
	}
	composite := num / den

	tau := e.Threshold(s)
	sig := domain.Signal{
		Symbol:      symbol,
		Type:        domain.SignalHold,
		Strength:    math.Min(1, math.Abs(composite)),
		Composite:   composite,
		Factors:     scores,
		GeneratedAt: at,
	}
	switch {
	case composite >= tau:
		sig.Type = domain.SignalBuy
	case composite <= -tau:
		sig.Type = domain.SignalSell
	}
	return sig
}
