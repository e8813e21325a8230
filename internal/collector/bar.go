package collector

import (
	"time"

	"duarte-scalper/internal/marketdata"
)

// barBuilder is the per-symbol OHLC state machine. It is either idle (no
// bar open) or holds exactly one open minute bar. Bars are built from
// mid-prices; volume accumulates real volume, or 1 per tick when the
// terminal reports none.
type barBuilder struct {
	symbol string
	open   bool
	minute time.Time
	bar    marketdata.Bar
	sumMid float64
}

// apply folds one tick into the state machine. When the tick opens a later
// minute the current bar is sealed and returned. A tick whose minute
// precedes the open bar is folded into the open bar without reopening, so
// sealed timestamps stay strictly increasing; late reports that case.
func (b *barBuilder) apply(tick marketdata.Tick) (sealed *marketdata.Bar, late bool) {
	minute := tick.Time.Truncate(time.Minute)
	mid := tick.Mid()

	switch {
	case !b.open:
		b.openBar(minute, mid)
	case minute.After(b.minute):
		done := b.seal()
		sealed = &done
		b.openBar(minute, mid)
	case minute.Before(b.minute):
		late = true
	}

	b.bar.Close = mid
	if mid > b.bar.High {
		b.bar.High = mid
	}
	if mid < b.bar.Low {
		b.bar.Low = mid
	}
	volume := tick.Volume
	if volume <= 0 {
		volume = 1
	}
	b.bar.Volume += volume
	b.bar.TickCount++
	b.sumMid += mid

	return sealed, late
}

// flush seals and returns the open bar, if any, leaving the builder idle.
func (b *barBuilder) flush() *marketdata.Bar {
	if !b.open {
		return nil
	}
	done := b.seal()
	b.open = false
	return &done
}

func (b *barBuilder) openBar(minute time.Time, mid float64) {
	b.open = true
	b.minute = minute
	b.bar = marketdata.Bar{
		Symbol: b.symbol,
		Time:   minute,
		Open:   mid,
		High:   mid,
		Low:    mid,
		Close:  mid,
	}
	b.sumMid = 0
}

func (b *barBuilder) seal() marketdata.Bar {
	done := b.bar
	if done.TickCount > 0 {
		done.TypicalPrice = b.sumMid / float64(done.TickCount)
	}
	return done
}
