package marketdata

import (
	"context"
	"errors"
	"time"
)

// ErrNoTick indicates the terminal had no quote for the symbol. Callers
// treat it as a skip, not a failure.
var ErrNoTick = errors.New("marketdata: no tick available")

// Tick is a single quote/trade update from the terminal.
type Tick struct {
	Symbol  string    `json:"symbol"`
	Time    time.Time `json:"time"`
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	Last    float64   `json:"last"`
	Volume  float64   `json:"volume"`
	TimeMsc int64     `json:"time_msc"`
	Flags   uint32    `json:"flags"`

	// Direction is derived downstream: +1 uptick, -1 downtick, 0 neutral.
	Direction int `json:"direction"`
}

// Mid returns the bid/ask midpoint.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Spread returns ask minus bid.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Price returns the last traded price, falling back to the midpoint when
// the terminal reports no trade price.
func (t Tick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Mid()
}

// Bar is one OHLC aggregate for a fixed time bucket.
type Bar struct {
	Symbol       string    `json:"symbol"`
	Time         time.Time `json:"time"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	TickCount    int64     `json:"tick_count"`
	TypicalPrice float64   `json:"typical_price"`
}

// SymbolInfo is the terminal's static metadata for an instrument.
type SymbolInfo struct {
	Symbol         string  `json:"symbol"`
	Point          float64 `json:"point"`
	Digits         int     `json:"digits"`
	TickSize       float64 `json:"tick_size"`
	ContractSize   float64 `json:"contract_size"`
	MarginInitial  float64 `json:"margin_initial"`
	CurrencyBase   string  `json:"currency_base"`
	CurrencyProfit string  `json:"currency_profit"`
	CurrencyMargin string  `json:"currency_margin"`
}

// Timeframe names a bar period as the terminal spells it.
type Timeframe string

// Supported bar periods.
const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
)

// Provider is the terminal boundary. Exactly these operations are consumed;
// the handle is single-instance and not safe for concurrent use, so all
// access is serialized through one loop.
type Provider interface {
	Connect(ctx context.Context) error
	Close() error
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	LatestTick(ctx context.Context, symbol string) (Tick, error)
	TicksRange(ctx context.Context, symbol string, from, to time.Time) ([]Tick, error)
	BarsRange(ctx context.Context, symbol string, timeframe Timeframe, from, to time.Time) ([]Bar, error)
}
