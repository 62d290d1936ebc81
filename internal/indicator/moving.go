package indicator

// SMA is the arithmetic mean of the trailing period values. Ready from index
// period-1.
func SMA(values []float64, period int) Series {
	out := warming(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = Ready(sum / float64(period))
		}
	}
	return out
}

// EMA is seeded with the SMA of the first period values at index period-1 and
// then follows ema[i] = (v[i]-ema[i-1])*k + ema[i-1] with k = 2/(period+1).
func EMA(values []float64, period int) Series {
	out := warming(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)
	out[period-1] = Ready(ema)

	k := 2 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*k + ema
		out[i] = Ready(ema)
	}
	return out
}

// ROC is the rate of change over period steps, (v[i]-v[i-period])/v[i-period].
// Entries whose base is zero stay WarmingUp.
func ROC(values []float64, period int) Series {
	out := warming(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	for i := period; i < len(values); i++ {
		base := values[i-period]
		if base == 0 {
			continue
		}
		out[i] = Ready((values[i] - base) / base)
	}
	return out
}
