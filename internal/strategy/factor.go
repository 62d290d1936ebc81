package strategy

import (
	"math"

	"github.com/alanyoungcy/equitybot/internal/domain"
	"github.com/alanyoungcy/equitybot/internal/indicator"
)

// Factor scores one technical input for a symbol. Scores are in [-1, 1],
// positive meaning bullish. ok is false while the underlying indicators are
// still warming up.
type Factor interface {
	Type() domain.FactorType
	Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (score float64, ok bool)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}

func intParam(cfg domain.FactorConfig, name string, def int) int {
	return int(cfg.Param(name, float64(def)))
}

// rsiFactor is bullish below the oversold band and bearish above the
// overbought band, scaled by distance into the band.
type rsiFactor struct{}

func (rsiFactor) Type() domain.FactorType { return domain.FactorRSI }

func (rsiFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	r, ok := indicator.RSI(domain.Closes(bars), intParam(cfg, "period", 14)).Last()
	if !ok {
		return 0, false
	}
	oversold := cfg.Param("oversold", 30)
	overbought := cfg.Param("overbought", 70)
	switch {
	case r <= oversold && oversold > 0:
		return clamp((oversold - r) / oversold), true
	case r >= overbought && overbought < 100:
		return clamp(-(r - overbought) / (100 - overbought)), true
	default:
		return 0, true
	}
}

// macdFactor scores the histogram relative to price.
type macdFactor struct{}

func (macdFactor) Type() domain.FactorType { return domain.FactorMACD }

func (macdFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	closes := domain.Closes(bars)
	res := indicator.MACD(closes,
		intParam(cfg, "fast_period", 12),
		intParam(cfg, "slow_period", 26),
		intParam(cfg, "signal_period", 9))
	h, ok := res.Histogram.Last()
	if !ok || len(closes) == 0 || closes[len(closes)-1] == 0 {
		return 0, false
	}
	return clamp(h / closes[len(closes)-1] * cfg.Param("sensitivity", 100)), true
}

// maCrossoverFactor scores the spread of a fast SMA over a slow SMA.
type maCrossoverFactor struct{}

func (maCrossoverFactor) Type() domain.FactorType { return domain.FactorMACrossover }

func (maCrossoverFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	closes := domain.Closes(bars)
	fast, okF := indicator.SMA(closes, intParam(cfg, "fast_period", 5)).Last()
	slow, okS := indicator.SMA(closes, intParam(cfg, "slow_period", 20)).Last()
	if !okF || !okS || slow == 0 {
		return 0, false
	}
	sens := cfg.Param("sensitivity", 0.02)
	if sens <= 0 {
		sens = 0.02
	}
	return clamp((fast - slow) / slow / sens), true
}

// bollingerFactor is a mean-reversion score: +1 at the lower band, -1 at the
// upper band.
type bollingerFactor struct{}

func (bollingerFactor) Type() domain.FactorType { return domain.FactorBollingerBands }

func (bollingerFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	closes := domain.Closes(bars)
	res := indicator.Bollinger(closes, intParam(cfg, "period", 20), cfg.Param("std_dev", 2))
	up, okU := res.Upper.Last()
	lo, okL := res.Lower.Last()
	if !okU || !okL {
		return 0, false
	}
	if up == lo {
		return 0, true
	}
	pctB := (closes[len(closes)-1] - lo) / (up - lo)
	return clamp(1 - 2*pctB), true
}

// momentumFactor scores the rate of change over period bars.
type momentumFactor struct{}

func (momentumFactor) Type() domain.FactorType { return domain.FactorMomentum }

func (momentumFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	roc, ok := indicator.ROC(domain.Closes(bars), intParam(cfg, "period", 10)).Last()
	if !ok {
		return 0, false
	}
	sens := cfg.Param("sensitivity", 0.05)
	if sens <= 0 {
		sens = 0.05
	}
	return clamp(roc / sens), true
}

// atrBreakoutFactor scores the last close-to-close move in units of ATR.
type atrBreakoutFactor struct{}

func (atrBreakoutFactor) Type() domain.FactorType { return domain.FactorATRBreakout }

func (atrBreakoutFactor) Evaluate(bars []domain.PriceBar, cfg domain.FactorConfig) (float64, bool) {
	if len(bars) < 2 {
		return 0, false
	}
	atr, ok := indicator.ATR(domain.Highs(bars), domain.Lows(bars), domain.Closes(bars), intParam(cfg, "period", 14)).Last()
	if !ok {
		return 0, false
	}
	mult := cfg.Param("multiplier", 1)
	if atr == 0 || mult <= 0 {
		return 0, true
	}
	move := bars[len(bars)-1].Close - bars[len(bars)-2].Close
	return clamp(move / (mult * atr)), true
}
