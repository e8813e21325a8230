package rolling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrefixSum(t *testing.T) {
	p := NewPrefix([]float64{1, 2, 3, 4})

	require.Equal(t, 10.0, p.Sum(0, 3))
	require.Equal(t, 5.0, p.Sum(1, 2))
	require.Equal(t, 4.0, p.Sum(3, 3))
	require.Equal(t, 0.0, p.Sum(2, 1))
	require.Equal(t, 10.0, p.Sum(-5, 99))
}

func TestRangeStd(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	squares := make([]float64, len(values))
	for i, v := range values {
		squares[i] = v * v
	}
	sum := NewPrefix(values)
	sumSq := NewPrefix(squares)

	// Sample std over the full series: mean 5, squared deviations 32.
	require.InDelta(t, math.Sqrt(32.0/7.0), RangeStd(sum, sumSq, 0, 7), 1e-12)

	require.True(t, math.IsNaN(RangeStd(sum, sumSq, 3, 3)))

	// Constant sub-series has zero deviation.
	require.Equal(t, 0.0, RangeStd(sum, sumSq, 1, 3))
}

func TestExtremesSlidingWindow(t *testing.T) {
	values := []float64{1, 3, 2, 5, 4}
	wantMax := []float64{1, 3, 3, 5, 5}
	wantMin := []float64{1, 1, 1, 2, 2}

	e := NewExtremes(values)
	const window = 3
	for i := range values {
		e.Push(i)
		e.Advance(i - window + 1)
		require.Equal(t, wantMax[i], e.Max(), "max at %d", i)
		require.Equal(t, wantMin[i], e.Min(), "min at %d", i)
	}
}

func TestExtremesEmpty(t *testing.T) {
	e := NewExtremes([]float64{1})
	require.True(t, math.IsNaN(e.Max()))
	require.True(t, math.IsNaN(e.Min()))
}

func TestWelfordMean(t *testing.T) {
	var w Welford
	require.Equal(t, 0.0, w.Mean())

	for i := 1; i <= 5; i++ {
		w.Add(float64(i))
	}
	require.InDelta(t, 3.0, w.Mean(), 1e-12)
	require.Equal(t, int64(5), w.Count())
}
