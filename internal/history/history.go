// Package history implements one-shot batch collection of historical tick
// and bar data: chunked range fetches with retry, in-memory deduplication
// and sorting, and a single parquet file per (symbol, kind).
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/storage"
)

// Options tune the batch job.
type Options struct {
	Symbols       []string
	Months        int
	ChunkHours    int
	Retries       int
	RetryBackoff  time.Duration
	RatePerSecond float64
	Timeframe     marketdata.Timeframe
}

func (o *Options) applyDefaults() {
	if o.Months <= 0 {
		o.Months = 6
	}
	if o.ChunkHours <= 0 {
		o.ChunkHours = 24
	}
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 1
	}
	if o.Timeframe == "" {
		o.Timeframe = marketdata.TimeframeM1
	}
}

// Collection statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Result is the per-symbol collection outcome.
type Result struct {
	Symbol    string
	Status    string
	TickRows  int64
	BarRows   int64
	TicksOK   bool
	BarsOK    bool
	Error     string
	Info      marketdata.SymbolInfo
	StartedAt time.Time
	Finished  time.Time
}

// Collector runs the historical batch job.
type Collector struct {
	provider marketdata.Provider
	sink     *storage.ParquetSink
	runs     storage.RunStore
	logger   zerolog.Logger
	limiter  *rate.Limiter
	opts     Options
}

// New constructs a historical Collector. runs may be nil when the catalog
// is not configured.
func New(provider marketdata.Provider, sink *storage.ParquetSink, runs storage.RunStore, opts Options, logger zerolog.Logger) *Collector {
	opts.applyDefaults()
	return &Collector{
		provider: provider,
		sink:     sink,
		runs:     runs,
		logger:   logger.With().Str("component", "historical_collector").Logger(),
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		opts:     opts,
	}
}

// DateRange computes the collection window: now back by months, aligned to
// the 09:00 market open on the start day.
func (c *Collector) DateRange(now time.Time) (time.Time, time.Time) {
	to := now
	from := to.AddDate(0, 0, -c.opts.Months*30)
	from = time.Date(from.Year(), from.Month(), from.Day(), 9, 0, 0, 0, from.Location())
	to = time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, to.Location())
	return from, to
}

// CollectAll collects every configured symbol sequentially. A symbol that
// cannot be resolved is marked failed; the others proceed.
func (c *Collector) CollectAll(ctx context.Context) (map[string]Result, error) {
	if err := c.provider.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect provider: %w", err)
	}
	defer c.provider.Close()

	from, to := c.DateRange(time.Now())
	c.logger.Info().Time("from", from).Time("to", to).Msg("historical collection window")

	results := make(map[string]Result, len(c.opts.Symbols))
	for _, symbol := range c.opts.Symbols {
		result := c.collectSymbol(ctx, symbol, from, to)
		results[symbol] = result
		c.recordRuns(ctx, result)

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

func (c *Collector) collectSymbol(ctx context.Context, symbol string, from, to time.Time) Result {
	result := Result{Symbol: symbol, StartedAt: time.Now()}
	defer func() { result.Finished = time.Now() }()

	info, err := c.provider.SymbolInfo(ctx, symbol)
	if err != nil {
		c.logger.Error().Err(err).Str("symbol", symbol).Msg("symbol not resolvable")
		result.Status = StatusFailed
		result.Error = err.Error()
		result.Finished = time.Now()
		return result
	}
	result.Info = info
	c.logger.Info().Str("symbol", symbol).
		Float64("tick_size", info.TickSize).
		Int("digits", info.Digits).
		Float64("contract_size", info.ContractSize).
		Msg("collecting symbol")

	tickRows, tickErr := c.collectTicks(ctx, symbol, from, to)
	result.TickRows = tickRows
	result.TicksOK = tickErr == nil

	barRows, barErr := c.collectBars(ctx, symbol, from, to)
	result.BarRows = barRows
	result.BarsOK = barErr == nil

	switch {
	case result.TicksOK && result.BarsOK:
		result.Status = StatusSuccess
	case result.TicksOK || result.BarsOK:
		result.Status = StatusPartial
	default:
		result.Status = StatusFailed
	}
	if tickErr != nil {
		result.Error = tickErr.Error()
	} else if barErr != nil {
		result.Error = barErr.Error()
	}
	result.Finished = time.Now()
	return result
}

// collectTicks fetches the tick range in chunks. A chunk that exhausts its
// retries is skipped, failing that chunk only; the output is deduplicated
// on (time, bid, ask) and sorted so re-running an already-collected range
// produces identical output.
func (c *Collector) collectTicks(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	var all []marketdata.Tick
	failedChunks := 0
	totalChunks := 0
	chunk := time.Duration(c.opts.ChunkHours) * time.Hour

	for current := from; current.Before(to); {
		chunkEnd := current.Add(chunk)
		if chunkEnd.After(to) {
			chunkEnd = to
		}
		totalChunks++

		ticks, err := c.fetchTickChunk(ctx, symbol, current, chunkEnd)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			failedChunks++
			c.logger.Error().Err(err).Str("symbol", symbol).
				Time("from", current).Time("to", chunkEnd).
				Msg("tick chunk failed after retries")
		} else {
			all = append(all, ticks...)
			c.logger.Info().Str("symbol", symbol).Int("chunk_ticks", len(ticks)).Int("total", len(all)).Msg("tick chunk collected")
		}

		current = chunkEnd
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	if len(all) == 0 {
		return 0, fmt.Errorf("no ticks collected for %s", symbol)
	}

	all = DedupeSort(all)
	AssignDirections(all)

	path := c.sink.TickPath(symbol, "historical")
	if err := c.sink.WriteTicks(path, all); err != nil {
		return 0, err
	}

	if failedChunks > 0 {
		return int64(len(all)), fmt.Errorf("%d of %d tick chunks failed for %s", failedChunks, totalChunks, symbol)
	}
	return int64(len(all)), nil
}

func (c *Collector) fetchTickChunk(ctx context.Context, symbol string, from, to time.Time) ([]marketdata.Tick, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		ticks, err := c.provider.TicksRange(ctx, symbol, from, to)
		if err == nil {
			return ticks, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("tick fetch attempt failed")
		if attempt < c.opts.Retries {
			select {
			case <-time.After(c.opts.RetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Collector) collectBars(ctx context.Context, symbol string, from, to time.Time) (int64, error) {
	var bars []marketdata.Bar
	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		fetched, err := c.provider.BarsRange(ctx, symbol, c.opts.Timeframe, from, to)
		if err == nil {
			bars = fetched
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.logger.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt).Msg("bar fetch attempt failed")
		if attempt < c.opts.Retries {
			select {
			case <-time.After(c.opts.RetryBackoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return 0, lastErr
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("no bars returned for %s", symbol)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	for i := range bars {
		if bars[i].TypicalPrice == 0 {
			bars[i].TypicalPrice = (bars[i].High + bars[i].Low + bars[i].Close) / 3
		}
	}

	path := c.sink.BarPath(symbol, string(c.opts.Timeframe), "historical")
	if err := c.sink.WriteBars(path, string(c.opts.Timeframe), bars); err != nil {
		return 0, err
	}
	return int64(len(bars)), nil
}

func (c *Collector) recordRuns(ctx context.Context, result Result) {
	if c.runs == nil {
		return
	}
	for _, kind := range []string{"ticks", "ohlc"} {
		run := storage.CollectionRun{
			Symbol:     result.Symbol,
			Kind:       kind,
			Status:     result.Status,
			StartedAt:  result.StartedAt,
			FinishedAt: result.Finished,
		}
		if kind == "ticks" {
			run.Rows = result.TickRows
		} else {
			run.Rows = result.BarRows
		}
		if result.Error != "" {
			msg := result.Error
			run.Error = &msg
		}
		if _, err := c.runs.InsertRun(ctx, run); err != nil {
			c.logger.Warn().Err(err).Str("symbol", result.Symbol).Msg("catalog run insert failed")
		}
	}
}

// DedupeSort removes duplicate ticks keyed on (time, bid, ask) and sorts by
// time, preserving arrival order for equal timestamps. The input slice is
// left untouched.
func DedupeSort(ticks []marketdata.Tick) []marketdata.Tick {
	type key struct {
		ts  int64
		bid float64
		ask float64
	}
	seen := make(map[key]struct{}, len(ticks))
	out := make([]marketdata.Tick, 0, len(ticks))
	for _, t := range ticks {
		k := key{ts: t.Time.UnixMicro(), bid: t.Bid, ask: t.Ask}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// AssignDirections derives tick direction in place: the first tick is
// neutral, each later tick compares its price to the one before it.
func AssignDirections(ticks []marketdata.Tick) {
	for i := range ticks {
		if i == 0 {
			ticks[i].Direction = 0
			continue
		}
		prev := ticks[i-1].Price()
		cur := ticks[i].Price()
		switch {
		case cur > prev:
			ticks[i].Direction = 1
		case cur < prev:
			ticks[i].Direction = -1
		default:
			ticks[i].Direction = 0
		}
	}
}

// Report renders a human-readable collection summary.
func Report(results map[string]Result, now time.Time) string {
	var b strings.Builder
	b.WriteString("DUARTE-SCALPER - HISTORICAL COLLECTION REPORT\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Report date: %s\n\n", now.Format("2006-01-02 15:04:05"))

	symbols := make([]string, 0, len(results))
	for symbol := range results {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		r := results[symbol]
		fmt.Fprintf(&b, "%s [%s]\n", symbol, r.Status)
		b.WriteString(strings.Repeat("-", 20) + "\n")
		if r.TicksOK {
			fmt.Fprintf(&b, "  Ticks: %d rows\n", r.TickRows)
		} else {
			b.WriteString("  Ticks: not collected\n")
		}
		if r.BarsOK {
			fmt.Fprintf(&b, "  OHLC: %d bars\n", r.BarRows)
		} else {
			b.WriteString("  OHLC: not collected\n")
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
