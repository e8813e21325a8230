package features

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"duarte-scalper/internal/rolling"
)

// windowStarts returns, for each row i, the first index inside the
// time window (seconds[i]-w, seconds[i]]. Both pointers only move forward,
// so the whole pass is O(n).
func windowStarts(seconds []float64, w float64) []int {
	starts := make([]int, len(seconds))
	s := 0
	for i := range seconds {
		for seconds[s] <= seconds[i]-w {
			s++
		}
		starts[i] = s
	}
	return starts
}

func windowSuffix(w time.Duration) string {
	return fmt.Sprintf("_%ds", int(w.Seconds()))
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// extractVelocity adds tick velocity, price velocity, acceleration, return
// volatility, and range velocity per window.
func extractVelocity(frame *Frame, p prepared) error {
	n := len(p.last)

	returns := make([]float64, n)
	returnsSq := make([]float64, n)
	for i := 1; i < n; i++ {
		if p.last[i-1] != 0 {
			returns[i] = p.last[i]/p.last[i-1] - 1
			returnsSq[i] = returns[i] * returns[i]
		}
	}
	retSum := rolling.NewPrefix(returns)
	retSumSq := rolling.NewPrefix(returnsSq)

	for _, w := range Windows {
		ws := w.Seconds()
		suffix := windowSuffix(w)
		starts := windowStarts(p.seconds, ws)
		ext := rolling.NewExtremes(p.last)

		tickVel := nanSlice(n)
		priceVel := nanSlice(n)
		accel := nanSlice(n)
		volatility := nanSlice(n)
		rangeVel := nanSlice(n)

		for i := 0; i < n; i++ {
			ext.Push(i)
			ext.Advance(starts[i])
			s := starts[i]
			count := i - s + 1
			if count < minTicksPerWindow {
				continue
			}

			tickVel[i] = float64(count) / ws
			priceVel[i] = (p.last[i] - p.last[s]) / ws
			// Returns start at row 1; a window touching row 0 excludes it.
			volatility[i] = rolling.RangeStd(retSum, retSumSq, maxInt(s, 1), i)
			rangeVel[i] = (ext.Max() - ext.Min()) / ws
		}
		for i := 1; i < n; i++ {
			accel[i] = priceVel[i] - priceVel[i-1]
		}

		if err := addColumns(frame, suffix, []namedColumn{
			{"tick_velocity", tickVel},
			{"price_velocity", priceVel},
			{"acceleration", accel},
			{"volatility", volatility},
			{"range_velocity", rangeVel},
		}); err != nil {
			return err
		}
	}
	return nil
}

// extractPriceAction adds momentum, trend consistency, rejection strength,
// level tests, and directional persistence per window.
func extractPriceAction(frame *Frame, p prepared) error {
	n := len(p.last)

	up := make([]float64, n)
	down := make([]float64, n)
	flips := make([]float64, n)
	for i := range p.direction {
		if p.direction[i] > 0 {
			up[i] = 1
		} else if p.direction[i] < 0 {
			down[i] = 1
		}
		if i > 0 && p.direction[i] != p.direction[i-1] {
			flips[i] = 1
		}
	}
	dirSum := rolling.NewPrefix(p.direction)
	upSum := rolling.NewPrefix(up)
	downSum := rolling.NewPrefix(down)
	flipSum := rolling.NewPrefix(flips)

	for _, w := range Windows {
		suffix := windowSuffix(w)
		starts := windowStarts(p.seconds, w.Seconds())
		ext := rolling.NewExtremes(p.last)

		momentum := nanSlice(n)
		consistency := nanSlice(n)
		rejection := nanSlice(n)
		levelTests := nanSlice(n)
		persistence := nanSlice(n)

		for i := 0; i < n; i++ {
			ext.Push(i)
			ext.Advance(starts[i])
			s := starts[i]
			count := i - s + 1
			if count < minTicksPerWindow {
				continue
			}

			momentum[i] = dirSum.Sum(s, i)

			ups := upSum.Sum(s, i)
			downs := downSum.Sum(s, i)
			if nz := ups + downs; nz > 0 {
				consistency[i] = math.Max(ups, downs) / nz
			} else {
				consistency[i] = 0
			}

			windowRange := ext.Max() - ext.Min()
			if windowRange > 0 {
				rejection[i] = 1 - math.Abs(p.last[i]-p.last[s])/windowRange
			} else {
				rejection[i] = 0
			}

			levelTests[i] = countLevelTouches(p.last[s:i+1], ext.Max(), ext.Min())

			persistence[i] = 1 - flipSum.Sum(s+1, i)/float64(count)
		}

		if err := addColumns(frame, suffix, []namedColumn{
			{"momentum", momentum},
			{"trend_consistency", consistency},
			{"rejection_strength", rejection},
			{"level_tests", levelTests},
			{"directional_persistence", persistence},
		}); err != nil {
			return err
		}
	}
	return nil
}

// countLevelTouches counts prices within 0.01% of the window extremes and
// returns the larger touch count. Touch counting against a moving extreme
// cannot be maintained incrementally, so this scans the window.
func countLevelTouches(window []float64, high, low float64) float64 {
	highBand := high * (1 - levelTouchBand)
	lowBand := low * (1 + levelTouchBand)
	var highTouches, lowTouches float64
	for _, v := range window {
		if v >= highBand {
			highTouches++
		}
		if v <= lowBand {
			lowTouches++
		}
	}
	return math.Max(highTouches, lowTouches)
}

// extractVolumeFlow adds buy/sell pressure, volume imbalance, volume spike,
// large-print ratio, and volume velocity per window.
func extractVolumeFlow(frame *Frame, p prepared) error {
	n := len(p.volume)

	buyVol := make([]float64, n)
	sellVol := make([]float64, n)
	for i := range p.volume {
		if p.direction[i] > 0 {
			buyVol[i] = p.volume[i]
		} else if p.direction[i] < 0 {
			sellVol[i] = p.volume[i]
		}
	}
	volSum := rolling.NewPrefix(p.volume)
	buySum := rolling.NewPrefix(buyVol)
	sellSum := rolling.NewPrefix(sellVol)

	// Trailing per-tick volume moving average, count-based.
	volumeMA := nanSlice(n)
	for i := volumeMAMinCount - 1; i < n; i++ {
		s := maxInt(0, i-volumeMAPeriod+1)
		volumeMA[i] = volSum.Sum(s, i) / float64(i-s+1)
	}

	for _, w := range Windows {
		ws := w.Seconds()
		suffix := windowSuffix(w)
		starts := windowStarts(p.seconds, ws)

		buyPressure := nanSlice(n)
		sellPressure := nanSlice(n)
		imbalance := nanSlice(n)
		spike := nanSlice(n)
		largePrint := nanSlice(n)
		volVelocity := nanSlice(n)

		for i := 0; i < n; i++ {
			s := starts[i]
			count := i - s + 1
			if count < minTicksPerWindow {
				continue
			}

			total := volSum.Sum(s, i)
			buys := buySum.Sum(s, i)
			sells := sellSum.Sum(s, i)

			if total > 0 {
				buyPressure[i] = buys / total
				sellPressure[i] = sells / total
				imbalance[i] = (buys - sells) / total
			} else {
				buyPressure[i] = 0
				sellPressure[i] = 0
				imbalance[i] = 0
			}

			spike[i] = total / volumeMA[i]
			largePrint[i] = largePrintRatio(p.volume[s:i+1], total/float64(count))
			volVelocity[i] = total / ws
		}

		if err := addColumns(frame, suffix, []namedColumn{
			{"buy_pressure", buyPressure},
			{"sell_pressure", sellPressure},
			{"volume_imbalance", imbalance},
			{"volume_spike", spike},
			{"large_print_ratio", largePrint},
			{"volume_velocity", volVelocity},
		}); err != nil {
			return err
		}
	}
	return nil
}

// largePrintRatio is the fraction of window prints above three times the
// window mean volume. The mean moves with the window, so this scans it.
func largePrintRatio(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	threshold := mean * largePrintFactor
	var large float64
	for _, v := range window {
		if v > threshold {
			large++
		}
	}
	return large / float64(len(window))
}

// extractMicrostructure adds normalized spread, spread volatility, bid/ask
// change frequency, mean inter-tick time, and tick-size adherence per
// window. The adherence test runs in decimal so exact increment multiples
// are not lost to float rounding.
func (e *Extractor) extractMicrostructure(frame *Frame, p prepared) error {
	n := len(p.spread)

	spreadSq := make([]float64, n)
	bidChanges := make([]float64, n)
	askChanges := make([]float64, n)
	adherent := make([]float64, n)
	for i := range p.spread {
		spreadSq[i] = p.spread[i] * p.spread[i]
		if i == 0 {
			continue
		}
		if p.bid[i] != p.bid[i-1] {
			bidChanges[i] = 1
		}
		if p.ask[i] != p.ask[i-1] {
			askChanges[i] = 1
		}
		delta := decimal.NewFromFloat(p.last[i]).Sub(decimal.NewFromFloat(p.last[i-1]))
		if delta.Abs().Mod(e.tickSize).IsZero() {
			adherent[i] = 1
		}
	}
	spreadSum := rolling.NewPrefix(p.spread)
	spreadSumSq := rolling.NewPrefix(spreadSq)
	midSum := rolling.NewPrefix(p.mid)
	bidChangeSum := rolling.NewPrefix(bidChanges)
	askChangeSum := rolling.NewPrefix(askChanges)
	adherentSum := rolling.NewPrefix(adherent)

	for _, w := range Windows {
		ws := w.Seconds()
		suffix := windowSuffix(w)
		starts := windowStarts(p.seconds, ws)

		spreadNorm := nanSlice(n)
		spreadVol := nanSlice(n)
		bidFreq := nanSlice(n)
		askFreq := nanSlice(n)
		interTick := nanSlice(n)
		adherence := nanSlice(n)

		for i := 0; i < n; i++ {
			s := starts[i]
			count := i - s + 1
			if count < minTicksPerWindow {
				continue
			}

			avgSpread := spreadSum.Sum(s, i) / float64(count)
			avgMid := midSum.Sum(s, i) / float64(count)
			denom := avgMid
			if denom == 0 {
				denom = 1
			}
			spreadNorm[i] = avgSpread / denom

			spreadVol[i] = rolling.RangeStd(spreadSum, spreadSumSq, s, i)
			bidFreq[i] = bidChangeSum.Sum(s+1, i) / ws
			askFreq[i] = askChangeSum.Sum(s+1, i) / ws
			interTick[i] = (p.seconds[i] - p.seconds[s]) / float64(count-1)
			adherence[i] = adherentSum.Sum(s+1, i) / float64(count-1)
		}

		if err := addColumns(frame, suffix, []namedColumn{
			{"spread_normalized", spreadNorm},
			{"spread_volatility", spreadVol},
			{"bid_change_freq", bidFreq},
			{"ask_change_freq", askFreq},
			{"avg_time_between_ticks", interTick},
			{"tick_size_adherence", adherence},
		}); err != nil {
			return err
		}
	}
	return nil
}

type namedColumn struct {
	name   string
	values []float64
}

func addColumns(frame *Frame, suffix string, cols []namedColumn) error {
	for _, col := range cols {
		if err := frame.AddColumn(col.name+suffix, col.values); err != nil {
			return err
		}
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
