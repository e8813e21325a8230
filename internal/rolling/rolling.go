// Package rolling provides incremental aggregates for sliding time windows:
// prefix sums for O(1) range sums, monotonic deques for window extremes, and
// a Welford running mean. These replace per-row full-window scans on the
// feature and collection hot paths.
package rolling

import "math"

// Prefix holds cumulative sums over a series, answering range sums in O(1).
type Prefix struct {
	cum []float64
}

// NewPrefix builds prefix sums for values.
func NewPrefix(values []float64) Prefix {
	cum := make([]float64, len(values)+1)
	for i, v := range values {
		cum[i+1] = cum[i] + v
	}
	return Prefix{cum: cum}
}

// Sum returns the sum of values[i..j] inclusive. Out-of-range or empty
// intervals return 0.
func (p Prefix) Sum(i, j int) float64 {
	if i < 0 {
		i = 0
	}
	if j >= len(p.cum)-1 {
		j = len(p.cum) - 2
	}
	if j < i {
		return 0
	}
	return p.cum[j+1] - p.cum[i]
}

// RangeStd returns the sample standard deviation of values[i..j] given a
// prefix over the values and one over their squares. Windows with fewer
// than two points return NaN.
func RangeStd(sum, sumSq Prefix, i, j int) float64 {
	n := float64(j - i + 1)
	if n < 2 {
		return math.NaN()
	}
	s := sum.Sum(i, j)
	sq := sumSq.Sum(i, j)
	variance := (sq - s*s/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Extremes maintains window max/min over a series using monotonic deques.
// Indices are pushed in order; Advance drops entries that fell out of the
// window.
type Extremes struct {
	values []float64
	maxIdx []int
	minIdx []int
}

// NewExtremes wraps a series for windowed extreme tracking.
func NewExtremes(values []float64) *Extremes {
	return &Extremes{values: values}
}

// Push appends index i to the deques. Indices must arrive in order.
func (e *Extremes) Push(i int) {
	v := e.values[i]
	for len(e.maxIdx) > 0 && e.values[e.maxIdx[len(e.maxIdx)-1]] <= v {
		e.maxIdx = e.maxIdx[:len(e.maxIdx)-1]
	}
	e.maxIdx = append(e.maxIdx, i)
	for len(e.minIdx) > 0 && e.values[e.minIdx[len(e.minIdx)-1]] >= v {
		e.minIdx = e.minIdx[:len(e.minIdx)-1]
	}
	e.minIdx = append(e.minIdx, i)
}

// Advance evicts deque entries with index < start.
func (e *Extremes) Advance(start int) {
	for len(e.maxIdx) > 0 && e.maxIdx[0] < start {
		e.maxIdx = e.maxIdx[1:]
	}
	for len(e.minIdx) > 0 && e.minIdx[0] < start {
		e.minIdx = e.minIdx[1:]
	}
}

// Max returns the current window maximum.
func (e *Extremes) Max() float64 {
	if len(e.maxIdx) == 0 {
		return math.NaN()
	}
	return e.values[e.maxIdx[0]]
}

// Min returns the current window minimum.
func (e *Extremes) Min() float64 {
	if len(e.minIdx) == 0 {
		return math.NaN()
	}
	return e.values[e.minIdx[0]]
}

// Welford accumulates a running mean without storing samples.
type Welford struct {
	n    int64
	mean float64
}

// Add folds one observation into the mean.
func (w *Welford) Add(x float64) {
	w.n++
	w.mean += (x - w.mean) / float64(w.n)
}

// Mean returns the running mean, 0 before any observation.
func (w *Welford) Mean() float64 {
	return w.mean
}

// Count returns the number of observations.
func (w *Welford) Count() int64 {
	return w.n
}
