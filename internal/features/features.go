// Package features implements the tape-reading feature extraction: a pure
// transform from a finite tick batch (plus an optional aligned bar batch)
// into a per-tick feature table. Four families are computed for each fixed
// time window: velocity, price action, volume flow, and microstructure.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"duarte-scalper/internal/marketdata"
)

// ErrInvalidInput reports a malformed tick batch. The extractor never
// retries or emits partial output.
var ErrInvalidInput = errors.New("features: invalid tick batch")

// Window lengths the families are computed over.
var Windows = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

const (
	minRows           = 100
	minTicksPerWindow = 5
	volumeMAPeriod    = 50
	volumeMAMinCount  = 10
	largePrintFactor  = 3.0
	levelTouchBand    = 0.0001 // 0.01% of window extreme
)

// ATRPeriods are the bar-based average-true-range lookbacks.
var ATRPeriods = []int{14, 20, 50}

// Extractor computes tape-reading features. It holds no per-call state;
// Extract is a pure function of its input.
type Extractor struct {
	logger   zerolog.Logger
	tickSize decimal.Decimal
}

// NewExtractor constructs an Extractor. tickSize is the symbol's minimum
// price increment used by the adherence feature.
func NewExtractor(tickSize float64, logger zerolog.Logger) *Extractor {
	if tickSize <= 0 {
		tickSize = 0.5
	}
	return &Extractor{
		logger:   logger.With().Str("component", "tape_features").Logger(),
		tickSize: decimal.NewFromFloat(tickSize),
	}
}

// prepared holds the derived per-tick series every family reads.
type prepared struct {
	times     []time.Time
	seconds   []float64 // unix seconds, fractional
	bid       []float64
	ask       []float64
	last      []float64
	mid       []float64
	spread    []float64
	volume    []float64
	direction []float64
}

// Extract computes the full feature table. bars may be nil; when provided,
// bar-geometry and ATR columns are added via a forward-filled time join.
func (e *Extractor) Extract(ticks []marketdata.Tick, bars []marketdata.Bar) (*Frame, error) {
	if err := e.validate(ticks); err != nil {
		return nil, err
	}

	p := e.prepare(ticks)
	frame := NewFrame(ticks[0].Symbol, p.times)

	e.logger.Info().Int("rows", len(ticks)).Msg("extracting features")

	if err := extractVelocity(frame, p); err != nil {
		return nil, err
	}
	if err := extractPriceAction(frame, p); err != nil {
		return nil, err
	}
	if err := extractVolumeFlow(frame, p); err != nil {
		return nil, err
	}
	if err := e.extractMicrostructure(frame, p); err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := extractBarFeatures(frame, p, bars); err != nil {
			return nil, err
		}
	}

	frame.Cleanse()

	e.logger.Info().Int("columns", len(frame.Columns())).Msg("feature extraction completed")
	return frame, nil
}

func (e *Extractor) validate(ticks []marketdata.Tick) error {
	if len(ticks) < minRows {
		return fmt.Errorf("%w: %d rows, need at least %d", ErrInvalidInput, len(ticks), minRows)
	}
	for i, t := range ticks {
		if t.Time.IsZero() {
			return fmt.Errorf("%w: row %d has no timestamp", ErrInvalidInput, i)
		}
		if t.Bid == 0 && t.Ask == 0 {
			return fmt.Errorf("%w: row %d has no quote", ErrInvalidInput, i)
		}
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].Time.Before(ticks[i-1].Time) {
			// Logged only; ordering is trusted, not corrected.
			e.logger.Warn().Int("row", i).Msg("tick batch not ordered by time")
			break
		}
	}
	return nil
}

// prepare derives the per-tick series. Direction is recomputed from the
// price sequence so the contract holds regardless of what the batch
// carried: first tick neutral, then sign of the price delta.
func (e *Extractor) prepare(ticks []marketdata.Tick) prepared {
	n := len(ticks)
	p := prepared{
		times:     make([]time.Time, n),
		seconds:   make([]float64, n),
		bid:       make([]float64, n),
		ask:       make([]float64, n),
		last:      make([]float64, n),
		mid:       make([]float64, n),
		spread:    make([]float64, n),
		volume:    make([]float64, n),
		direction: make([]float64, n),
	}
	for i, t := range ticks {
		p.times[i] = t.Time
		p.seconds[i] = float64(t.Time.UnixMicro()) / 1e6
		p.bid[i] = t.Bid
		p.ask[i] = t.Ask
		p.mid[i] = t.Mid()
		p.spread[i] = t.Spread()
		p.last[i] = t.Price()
		volume := t.Volume
		if volume <= 0 {
			volume = 1
		}
		p.volume[i] = volume
	}
	for i := 1; i < n; i++ {
		switch {
		case p.last[i] > p.last[i-1]:
			p.direction[i] = 1
		case p.last[i] < p.last[i-1]:
			p.direction[i] = -1
		}
	}
	return p
}

// ValidationReport summarises feature quality for a produced frame.
type ValidationReport struct {
	TotalFeatures int
	TotalRows     int
	InfiniteCells int
	MissingCells  int
	Ranges        map[string]ColumnStats
}

// ColumnStats is a per-column summary.
type ColumnStats struct {
	Min  float64
	Max  float64
	Mean float64
	Std  float64
}

// ValidateFeatures reports per-column ranges and any residual bad cells.
// After Cleanse both bad-cell counts are zero by construction.
func (e *Extractor) ValidateFeatures(frame *Frame) ValidationReport {
	report := ValidationReport{
		TotalFeatures: len(frame.Columns()),
		TotalRows:     frame.Rows(),
		Ranges:        make(map[string]ColumnStats, len(frame.Columns())),
	}
	for _, name := range frame.Columns() {
		col := frame.Column(name)
		stats := ColumnStats{Min: math.Inf(1), Max: math.Inf(-1)}
		var sum, sumSq float64
		n := 0
		for _, v := range col {
			if math.IsInf(v, 0) {
				report.InfiniteCells++
				continue
			}
			if math.IsNaN(v) {
				report.MissingCells++
				continue
			}
			if v < stats.Min {
				stats.Min = v
			}
			if v > stats.Max {
				stats.Max = v
			}
			sum += v
			sumSq += v * v
			n++
		}
		if n > 0 {
			stats.Mean = sum / float64(n)
		}
		if n > 1 {
			variance := (sumSq - sum*sum/float64(n)) / float64(n-1)
			if variance > 0 {
				stats.Std = math.Sqrt(variance)
			}
		}
		report.Ranges[name] = stats
	}
	return report
}
