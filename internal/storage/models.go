package storage

import (
	"time"

	"duarte-scalper/internal/marketdata"
)

// TickRow is the parquet record shape for persisted ticks. Date is the
// partition key.
type TickRow struct {
	Symbol    string  `parquet:"symbol,dict"`
	Timestamp int64   `parquet:"timestamp"` // microseconds since epoch, UTC
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
	Last      float64 `parquet:"last"`
	Volume    float64 `parquet:"volume"`
	Spread    float64 `parquet:"spread"`
	Mid       float64 `parquet:"mid_price"`
	Direction int32   `parquet:"direction"`
	Date      string  `parquet:"date,dict"`
}

// BarRow is the parquet record shape for persisted OHLC bars. Date is the
// partition key.
type BarRow struct {
	Symbol       string  `parquet:"symbol,dict"`
	Timestamp    int64   `parquet:"timestamp"` // bar open, microseconds since epoch, UTC
	Timeframe    string  `parquet:"timeframe,dict"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
	TickCount    int64   `parquet:"tick_count"`
	TypicalPrice float64 `parquet:"typical_price"`
	Range        float64 `parquet:"range"`
	Body         float64 `parquet:"body"`
	UpperShadow  float64 `parquet:"upper_shadow"`
	LowerShadow  float64 `parquet:"lower_shadow"`
	Date         string  `parquet:"date,dict"`
}

// CollectionRun records one per-symbol collection outcome in the catalog.
type CollectionRun struct {
	ID         int64
	Symbol     string
	Kind       string // "ticks", "ohlc", "realtime"
	Status     string // "success", "partial", "failed"
	Rows       int64
	StartedAt  time.Time
	FinishedAt time.Time
	Error      *string
}

// NewTickRow converts a provider tick into its persisted shape.
func NewTickRow(t marketdata.Tick) TickRow {
	return TickRow{
		Symbol:    t.Symbol,
		Timestamp: t.Time.UTC().UnixMicro(),
		Bid:       t.Bid,
		Ask:       t.Ask,
		Last:      t.Last,
		Volume:    t.Volume,
		Spread:    t.Spread(),
		Mid:       t.Mid(),
		Direction: int32(t.Direction),
		Date:      t.Time.UTC().Format("2006-01-02"),
	}
}

// Tick converts a persisted row back into the provider shape.
func (r TickRow) Tick() marketdata.Tick {
	return marketdata.Tick{
		Symbol:    r.Symbol,
		Time:      time.UnixMicro(r.Timestamp).UTC(),
		Bid:       r.Bid,
		Ask:       r.Ask,
		Last:      r.Last,
		Volume:    r.Volume,
		Direction: int(r.Direction),
	}
}

// NewBarRow converts a bar into its persisted shape, deriving the candle
// geometry columns.
func NewBarRow(b marketdata.Bar, timeframe string) BarRow {
	body := b.Close - b.Open
	if body < 0 {
		body = -body
	}
	upper := b.High - maxFloat(b.Open, b.Close)
	lower := minFloat(b.Open, b.Close) - b.Low
	return BarRow{
		Symbol:       b.Symbol,
		Timestamp:    b.Time.UTC().UnixMicro(),
		Timeframe:    timeframe,
		Open:         b.Open,
		High:         b.High,
		Low:          b.Low,
		Close:        b.Close,
		Volume:       b.Volume,
		TickCount:    b.TickCount,
		TypicalPrice: b.TypicalPrice,
		Range:        b.High - b.Low,
		Body:         body,
		UpperShadow:  upper,
		LowerShadow:  lower,
		Date:         b.Time.UTC().Format("2006-01-02"),
	}
}

// Bar converts a persisted row back into the provider shape.
func (r BarRow) Bar() marketdata.Bar {
	return marketdata.Bar{
		Symbol:       r.Symbol,
		Time:         time.UnixMicro(r.Timestamp).UTC(),
		Open:         r.Open,
		High:         r.High,
		Low:          r.Low,
		Close:        r.Close,
		Volume:       r.Volume,
		TickCount:    r.TickCount,
		TypicalPrice: r.TypicalPrice,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
