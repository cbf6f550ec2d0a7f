// Package indicator computes technical indicators aligned 1:1 with an input
// price slice. Undefined entries (warmup, zero denominators) are marked
// invalid instead of carrying a NaN placeholder.
package indicator

import "math"

// Series is an indicator aligned by position with its input. Values[i] is
// meaningful only when Valid[i] is true.
type Series struct {
	Values []float64
	Valid  []bool
}

func newSeries(n int) Series {
	return Series{Values: make([]float64, n), Valid: make([]bool, n)}
}

// Len returns the number of entries.
func (s Series) Len() int { return len(s.Values) }

// At returns the value at i and whether it is defined. Out-of-range indexes
// are reported as undefined.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s.Values) || !s.Valid[i] {
		return 0, false
	}
	return s.Values[i], true
}

// SMA is the simple moving average over window points. The first window-1
// entries are undefined. Each window is summed afresh, so a window of equal
// values averages to exactly that value.
func SMA(x []float64, window int) Series {
	out := newSeries(len(x))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(x); i++ {
		out.Values[i] = windowMean(x[i-window+1 : i+1])
		out.Valid[i] = true
	}
	return out
}

// StdDev is the rolling sample standard deviation (n-1 denominator) over
// window points. It needs at least two points, so window < 2 yields an
// all-undefined series.
func StdDev(x []float64, window int) Series {
	out := newSeries(len(x))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(x); i++ {
		w := x[i-window+1 : i+1]
		mean := windowMean(w)
		var ss float64
		for _, v := range w {
			d := v - mean
			ss += d * d
		}
		out.Values[i] = math.Sqrt(ss / float64(window-1))
		out.Valid[i] = true
	}
	return out
}

// windowMean averages w as offsets from its last point. Offsets of equal
// values are exactly zero, so the mean of a flat window is its value.
func windowMean(w []float64) float64 {
	ref := w[len(w)-1]
	var sum float64
	for _, v := range w {
		sum += v - ref
	}
	return ref + sum/float64(len(w))
}

// RSI is the relative strength index over period close-to-close deltas,
// using simple rolling means of gains and losses. The first period entries
// are undefined, and so is any bar whose average loss is zero.
func RSI(x []float64, period int) Series {
	out := newSeries(len(x))
	if period <= 0 || len(x) <= period {
		return out
	}
	gains := make([]float64, len(x))
	losses := make([]float64, len(x))
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gains[i] = d
		} else {
			losses[i] = -d
		}
	}

	for i := period; i < len(x); i++ {
		var g, l float64
		for j := i - period + 1; j <= i; j++ {
			g += gains[j]
			l += losses[j]
		}
		if l == 0 {
			continue
		}
		rs := (g / float64(period)) / (l / float64(period))
		out.Values[i] = 100 - 100/(1+rs)
		out.Valid[i] = true
	}
	return out
}
