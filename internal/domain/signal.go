package domain

import "time"

// SignalType is the directional recommendation of an evaluation.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// FactorScore records one factor's contribution to a composite.
type FactorScore struct {
	Type   FactorType `json:"type"`
	Weight float64    `json:"weight"`
	Score  float64    `json:"score"`
}

// Signal is produced fresh per (strategy, symbol) evaluation and never mutated.
type Signal struct {
	Symbol      string        `json:"symbol"`
	Type        SignalType    `json:"type"`
	Strength    float64       `json:"strength"`
	Composite   float64       `json:"composite"`
	Factors     []FactorScore `json:"factors"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// HoldSignal returns a zero-strength HOLD for symbol.
func HoldSignal(symbol string, at time.Time) Signal {
	return Signal{Symbol: symbol, Type: SignalHold, GeneratedAt: at}
}

// Actionable reports whether the signal asks for an order.
func (s Signal) Actionable() bool {
	return s.Type == SignalBuy || s.Type == SignalSell
}
