package indicator

import (
	"math"

	"github.com/montanaflynn/stats"
)

// RSI is Wilder's relative strength index. The averages are seeded with the
// mean of the first period gains and losses, so the first value lands at
// index period. When the average loss is zero the RSI is 100, including for a
// flat series.
func RSI(values []float64, period int) Series {
	out := warming(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := change(values[i-1], values[i])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = Ready(rsi(avgGain, avgLoss))

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		gain, loss := change(values[i-1], values[i])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = Ready(rsi(avgGain, avgLoss))
	}
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsi(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// MACDResult holds the three aligned MACD series.
type MACDResult struct {
	MACD      Series
	Signal    Series
	Histogram Series
}

// MACD computes EMA(fast)-EMA(slow), its signal EMA over the valid MACD tail
// and the histogram.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	n := len(values)
	res := MACDResult{MACD: warming(n), Signal: warming(n), Histogram: warming(n)}
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return res
	}

	fastE, slowE := EMA(values, fast), EMA(values, slow)
	start := -1
	for i := 0; i < n; i++ {
		f, okF := fastE[i].Get()
		s, okS := slowE[i].Get()
		if okF && okS {
			res.MACD[i] = Ready(f - s)
			if start < 0 {
				start = i
			}
		}
	}
	if start < 0 {
		return res
	}

	tail := make([]float64, n-start)
	for i := range tail {
		tail[i], _ = res.MACD[start+i].Get()
	}
	sig := EMA(tail, signal)
	for i, v := range sig {
		s, ok := v.Get()
		if !ok {
			continue
		}
		m, _ := res.MACD[start+i].Get()
		res.Signal[start+i] = Ready(s)
		res.Histogram[start+i] = Ready(m - s)
	}
	return res
}

// BollingerResult holds the three aligned band series.
type BollingerResult struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger computes SMA(period) plus and minus k population standard
// deviations of the trailing window.
func Bollinger(values []float64, period int, k float64) BollingerResult {
	n := len(values)
	res := BollingerResult{Upper: warming(n), Middle: SMA(values, period), Lower: warming(n)}
	if period <= 0 || n < period {
		return res
	}
	for i := period - 1; i < n; i++ {
		mid, _ := res.Middle[i].Get()
		sd, err := stats.StandardDeviationPopulation(values[i-period+1 : i+1])
		if err != nil || math.IsNaN(sd) {
			continue
		}
		res.Upper[i] = Ready(mid + k*sd)
		res.Lower[i] = Ready(mid - k*sd)
	}
	return res
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|), with the
// first entry falling back to high-low.
func TrueRange(high, low, close []float64) []float64 {
	n := min(len(high), len(low), len(close))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			pc := close[i-1]
			tr = math.Max(tr, math.Max(math.Abs(high[i]-pc), math.Abs(low[i]-pc)))
		}
		out[i] = tr
	}
	return out
}

// ATR is the EMA(period) of the true range. Mismatched input lengths yield an
// all-WarmingUp series aligned with close.
func ATR(high, low, close []float64, period int) Series {
	if len(high) != len(close) || len(low) != len(close) {
		return warming(len(close))
	}
	return EMA(TrueRange(high, low, close), period)
}
