package features

import (
	"fmt"
	"math"
	"sort"

	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/rolling"
)

// extractBarFeatures joins each tick to the most recent sealed bar and adds
// bar geometry plus ATR columns. Ticks before the first bar get NaN and are
// handled by Cleanse.
func extractBarFeatures(frame *Frame, p prepared, bars []marketdata.Bar) error {
	sorted := make([]marketdata.Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	n := len(p.times)

	// Forward-fill join: latest bar whose open time is at or before the tick.
	barIdx := make([]int, n)
	b := -1
	for i := 0; i < n; i++ {
		for b+1 < len(sorted) && !sorted[b+1].Time.After(p.times[i]) {
			b++
		}
		barIdx[i] = b
	}

	barRange := nanSlice(n)
	barBody := nanSlice(n)
	upperShadow := nanSlice(n)
	lowerShadow := nanSlice(n)
	position := nanSlice(n)

	for i := 0; i < n; i++ {
		k := barIdx[i]
		if k < 0 {
			continue
		}
		bar := sorted[k]
		barRange[i] = bar.High - bar.Low
		barBody[i] = math.Abs(bar.Close - bar.Open)
		upperShadow[i] = bar.High - math.Max(bar.Open, bar.Close)
		lowerShadow[i] = math.Min(bar.Open, bar.Close) - bar.Low
		if barRange[i] > 0 {
			position[i] = (p.last[i] - bar.Low) / barRange[i]
		} else {
			position[i] = p.last[i] - bar.Low
		}
	}

	cols := []namedColumn{
		{"ohlc_range", barRange},
		{"ohlc_body", barBody},
		{"upper_shadow", upperShadow},
		{"lower_shadow", lowerShadow},
		{"price_position_in_range", position},
	}
	for _, col := range cols {
		if err := frame.AddColumn(col.name, col.values); err != nil {
			return err
		}
	}

	trueRange := make([]float64, len(sorted))
	for k, bar := range sorted {
		if k == 0 {
			trueRange[k] = bar.High - bar.Low
			continue
		}
		prevClose := sorted[k-1].Close
		trueRange[k] = math.Max(bar.High-bar.Low,
			math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
	}
	trSum := rolling.NewPrefix(trueRange)

	for _, period := range ATRPeriods {
		atr := nanSlice(len(sorted))
		for k := period - 1; k < len(sorted); k++ {
			atr[k] = trSum.Sum(k-period+1, k) / float64(period)
		}
		col := nanSlice(n)
		for i := 0; i < n; i++ {
			if barIdx[i] >= 0 {
				col[i] = atr[barIdx[i]]
			}
		}
		if err := frame.AddColumn(fmt.Sprintf("atr_%d", period), col); err != nil {
			return err
		}
	}
	return nil
}
