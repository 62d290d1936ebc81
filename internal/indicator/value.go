// Package indicator implements pure technical indicators over price series.
// Every function returns a Series aligned 1:1 with its input; entries inside
// the warm-up window are WarmingUp rather than zero or NaN.
package indicator

// Value is either a ready number or a warm-up placeholder.
type Value struct {
	v     float64
	ready bool
}

// Ready wraps a computed value.
func Ready(v float64) Value { return Value{v: v, ready: true} }

// WarmingUp marks an index before the indicator has enough history.
func WarmingUp() Value { return Value{} }

// Get returns the value and whether it is ready.
func (v Value) Get() (float64, bool) { return v.v, v.ready }

// IsReady reports whether the value has been computed.
func (v Value) IsReady() bool { return v.ready }

// Series is an indicator output aligned with its input.
type Series []Value

func warming(n int) Series {
	return make(Series, n)
}

// Last returns the final entry.
func (s Series) Last() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Get()
}

// FromEnd returns entry i counted from the end (0 is the last entry).
func (s Series) FromEnd(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[len(s)-1-i].Get()
}

// FirstReady returns the index of the first ready entry, or -1.
func (s Series) FirstReady() int {
	for i, v := range s {
		if v.ready {
			return i
		}
	}
	return -1
}
