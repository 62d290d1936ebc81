package strategy

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

// trendBars builds n daily bars moving by step per bar from start.
func trendBars(n int, start, step float64) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	t0 := time.Date(2026, 1, 2, 21, 0, 0, 0, time.UTC)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = domain.PriceBar{
			Symbol:    "TEST",
			Timestamp: t0.AddDate(0, 0, i),
			Open:      c - step/2,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1_000,
		}
	}
	return bars
}

func noisyBars(seed int64, n int) []domain.PriceBar {
	rng := rand.New(rand.NewSource(seed))
	bars := trendBars(n, 100, 0)
	price := 100.0
	for i := range bars {
		price += rng.NormFloat64() * 2
		if price < 5 {
			price = 5
		}
		bars[i].Close = price
		bars[i].High = price + rng.Float64()*2
		bars[i].Low = price - rng.Float64()*2
	}
	return bars
}

func allFactors() []domain.FactorConfig {
	return []domain.FactorConfig{
		{Type: domain.FactorRSI, Weight: 0.3, Enabled: true},
		{Type: domain.FactorMACD, Weight: 0.2, Enabled: true},
		{Type: domain.FactorMACrossover, Weight: 0.5, Enabled: true},
		{Type: domain.FactorBollingerBands, Weight: 0.1, Enabled: true},
		{Type: domain.FactorMomentum, Weight: 0.4, Enabled: true},
		{Type: domain.FactorATRBreakout, Weight: 0.25, Enabled: true},
	}
}

func Test_Evaluate_ZeroEnabledFactorsHolds(t *testing.T) {
	ev := NewEvaluator(nil)
	tests := []struct {
		name    string
		factors []domain.FactorConfig
	}{
		{"no factors", nil},
		{"all disabled", []domain.FactorConfig{
			{Type: domain.FactorRSI, Weight: 1, Enabled: false},
			{Type: domain.FactorMACrossover, Weight: 1, Enabled: false},
		}},
		{"only unknown types", []domain.FactorConfig{{Type: "SENTIMENT", Weight: 1, Enabled: true}}},
		{"only zero weights", []domain.FactorConfig{{Type: domain.FactorMomentum, Weight: 0, Enabled: true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, bars := range [][]domain.PriceBar{nil, trendBars(30, 100, 1), trendBars(60, 200, -2), noisyBars(3, 80)} {
				sig := ev.Evaluate(domain.Strategy{Factors: tt.factors}, "TEST", bars)
				assert.Equal(t, domain.SignalHold, sig.Type)
				assert.Zero(t, sig.Strength)
			}
		})
	}
}

func Test_Evaluate_OrderInvariant(t *testing.T) {
	ev := NewEvaluator(nil)
	bars := noisyBars(11, 90)
	base := ev.Evaluate(domain.Strategy{Factors: allFactors()}, "TEST", bars)

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		shuffled := allFactors()
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := ev.Evaluate(domain.Strategy{Factors: shuffled}, "TEST", bars)
		assert.Equal(t, base.Composite, got.Composite)
		assert.Equal(t, base.Type, got.Type)
		assert.Equal(t, base.Factors, got.Factors)
	}
}

func Test_Evaluate_Thresholds(t *testing.T) {
	ev := NewEvaluator(nil)
	cross := []domain.FactorConfig{{Type: domain.FactorMACrossover, Weight: 1, Enabled: true}}

	up := ev.Evaluate(domain.Strategy{Factors: cross}, "UP", trendBars(30, 100, 1))
	assert.Equal(t, domain.SignalBuy, up.Type)
	assert.Equal(t, 1.0, up.Strength)

	down := ev.Evaluate(domain.Strategy{Factors: cross}, "DOWN", trendBars(30, 200, -1))
	assert.Equal(t, domain.SignalSell, down.Type)

	flat := ev.Evaluate(domain.Strategy{Factors: cross}, "FLAT", trendBars(30, 100, 0))
	assert.Equal(t, domain.SignalHold, flat.Type)
	assert.Zero(t, flat.Composite)

	// a tiny drift stays under a strict threshold
	drift := trendBars(30, 100, 0.05)
	loose := ev.Evaluate(domain.Strategy{Factors: cross, SignalThreshold: 0.05}, "DRIFT", drift)
	strict := ev.Evaluate(domain.Strategy{Factors: cross, SignalThreshold: 0.9}, "DRIFT", drift)
	assert.Equal(t, domain.SignalBuy, loose.Type)
	assert.Equal(t, domain.SignalHold, strict.Type)
	assert.Equal(t, loose.Composite, strict.Composite)
}

func Test_Evaluator_WithThreshold(t *testing.T) {
	ev := NewEvaluator(nil)
	assert.Equal(t, DefaultSignalThreshold, ev.Threshold(domain.Strategy{}))

	ev.WithThreshold(0.5).WithThreshold(-1)
	assert.Equal(t, 0.5, ev.Threshold(domain.Strategy{}))
	assert.Equal(t, 0.3, ev.Threshold(domain.Strategy{SignalThreshold: 0.3}))
}

func Test_Evaluate_WarmingUpFactorsExcluded(t *testing.T) {
	ev := NewEvaluator(nil)
	factors := []domain.FactorConfig{
		{Type: domain.FactorMACrossover, Weight: 0.5, Enabled: true},
		// needs 35 bars before its histogram is ready
		{Type: domain.FactorMACD, Weight: 0.5, Enabled: true},
	}
	sig := ev.Evaluate(domain.Strategy{Factors: factors}, "TEST", trendBars(25, 100, 1))
	require.Len(t, sig.Factors, 1)
	assert.Equal(t, domain.FactorMACrossover, sig.Factors[0].Type)
	assert.Equal(t, domain.SignalBuy, sig.Type)
}

func Test_Factors_ScoreRange(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		bars := noisyBars(seed, 100)
		for _, typ := range DefaultRegistry.Types() {
			f, ok := DefaultRegistry.Lookup(typ)
			require.True(t, ok)
			score, ok := f.Evaluate(bars, domain.FactorConfig{Type: typ, Weight: 1, Enabled: true})
			require.True(t, ok, typ)
			assert.GreaterOrEqual(t, score, -1.0, typ)
			assert.LessOrEqual(t, score, 1.0, typ)
		}
	}
}

func Test_Factors_Direction(t *testing.T) {
	up := trendBars(60, 100, 1)
	down := trendBars(60, 200, -1)

	tests := []struct {
		typ       domain.FactorType
		upSign    float64
		downSign  float64
		parameter map[string]float64
	}{
		{domain.FactorMACrossover, 1, -1, nil},
		{domain.FactorMomentum, 1, -1, nil},
		{domain.FactorRSI, -1, 1, nil},
		{domain.FactorATRBreakout, 1, -1, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			f, _ := DefaultRegistry.Lookup(tt.typ)
			cfg := domain.FactorConfig{Type: tt.typ, Weight: 1, Enabled: true, Parameters: tt.parameter}
			u, ok := f.Evaluate(up, cfg)
			require.True(t, ok)
			dn, ok := f.Evaluate(down, cfg)
			require.True(t, ok)
			assert.Greater(t, u*tt.upSign, 0.0)
			assert.Greater(t, dn*tt.downSign, 0.0)
		})
	}
}

func Test_Registry(t *testing.T) {
	reg := NewRegistry()
	assert.ElementsMatch(t, domain.KnownFactorTypes, reg.Types())

	_, ok := reg.Lookup("UNKNOWN")
	assert.False(t, ok)
}
