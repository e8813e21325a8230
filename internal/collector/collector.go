package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/metrics"
	"duarte-scalper/internal/rolling"
	"duarte-scalper/internal/scheduler"
)

// Sink receives drained buffers. Implemented by the parquet sink via the
// app wiring; tests substitute fakes.
type Sink interface {
	WriteTicks(symbol, bucket string, ticks []marketdata.Tick) error
	WriteBars(symbol, bucket string, bars []marketdata.Bar) error
}

// BarRecorder optionally mirrors sealed bars into the catalog. May be nil.
type BarRecorder interface {
	RecordBar(ctx context.Context, bar marketdata.Bar) error
}

// TickSource pushes ticks instead of being polled. When one is supplied
// the poll loop is not started. Implemented by the websocket stream.
type TickSource interface {
	Run(ctx context.Context, symbols []string, out chan<- marketdata.Tick) error
}

// Options tune the real-time engine. Zero values take defaults.
type Options struct {
	Symbols            []string
	PollInterval       time.Duration
	SaveInterval       time.Duration
	StatsInterval      time.Duration
	QueueCapacity      int
	TickBufferSize     int
	BarBufferSize      int
	BarRetainAfterSave int
	MaxFlushFailures   int
	DrainTimeout       time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Millisecond
	}
	if o.SaveInterval <= 0 {
		o.SaveInterval = time.Hour
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = time.Second
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 50000
	}
	if o.TickBufferSize <= 0 {
		o.TickBufferSize = 10000
	}
	if o.BarBufferSize <= 0 {
		o.BarBufferSize = 1440
	}
	if o.BarRetainAfterSave <= 0 {
		o.BarRetainAfterSave = 100
	}
	if o.MaxFlushFailures <= 0 {
		o.MaxFlushFailures = 3
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 5 * time.Second
	}
}

// SymbolStats is a point-in-time view of one symbol's collection state.
type SymbolStats struct {
	TotalTicks    int64     `json:"total_ticks"`
	LastTickTime  time.Time `json:"last_tick_time"`
	AvgSpread     float64   `json:"avg_spread"`
	SealedBars    int64     `json:"sealed_bars"`
	BufferedTicks int       `json:"buffered_ticks"`
	LateTicks     int64     `json:"late_ticks"`
	Degraded      bool      `json:"degraded"`
}

// Stats is a point-in-time view of the whole engine.
type Stats struct {
	TotalTicks     int64                  `json:"total_ticks"`
	TicksPerSecond float64                `json:"ticks_per_second"`
	DroppedTicks   int64                  `json:"dropped_ticks"`
	PollErrors     int64                  `json:"poll_errors"`
	LastSave       time.Time              `json:"last_save"`
	Symbols        map[string]SymbolStats `json:"symbols"`
}

type symbolState struct {
	ring    *Ring[marketdata.Tick]
	bars    *Ring[marketdata.Bar]
	builder barBuilder

	totalTicks   int64
	lastTickTime time.Time
	avgSpread    rolling.Welford
	sealedBars   int64
	lateTicks    int64

	lastPrice float64
	hasLast   bool

	flushFailures int
	degraded      bool
}

// Collector turns the polled tick stream into bounded recent-history rings
// and sealed minute bars, flushing both to storage on a cadence. One poll
// goroutine produces into a bounded queue; one worker goroutine owns all
// buffers and statistics. The queue drops on overflow so the poll loop
// never blocks on processing.
type Collector struct {
	provider marketdata.Provider
	source   TickSource
	sink     Sink
	recorder BarRecorder
	logger   zerolog.Logger
	opts     Options

	queue  chan marketdata.Tick
	flushC chan time.Time

	dropped    atomic.Int64
	pollErrors atomic.Int64

	// mu guards states and derived stats. Only the worker mutates; Stats
	// readers take the lock briefly for a snapshot.
	mu       sync.Mutex
	states   map[string]*symbolState
	lastSave time.Time
	tps      float64
	total    int64
}

// New constructs a Collector. source may be nil, in which case ticks are
// polled from the provider.
func New(provider marketdata.Provider, source TickSource, sink Sink, recorder BarRecorder, opts Options, logger zerolog.Logger) *Collector {
	opts.applyDefaults()

	states := make(map[string]*symbolState, len(opts.Symbols))
	for _, symbol := range opts.Symbols {
		states[symbol] = &symbolState{
			ring:    NewRing[marketdata.Tick](opts.TickBufferSize),
			bars:    NewRing[marketdata.Bar](opts.BarBufferSize),
			builder: barBuilder{symbol: symbol},
		}
	}

	return &Collector{
		provider: provider,
		source:   source,
		sink:     sink,
		recorder: recorder,
		logger:   logger.With().Str("component", "realtime_collector").Logger(),
		opts:     opts,
		queue:    make(chan marketdata.Tick, opts.QueueCapacity),
		flushC:   make(chan time.Time, 1),
		states:   states,
	}
}

// Run polls the terminal until ctx is cancelled, then drains the queue
// (bounded wait), performs a final flush, and releases the provider.
func (c *Collector) Run(ctx context.Context) error {
	if len(c.opts.Symbols) == 0 {
		return errors.New("collector: no symbols configured")
	}
	if err := c.provider.Connect(ctx); err != nil {
		return err
	}

	for _, symbol := range c.opts.Symbols {
		if _, err := c.provider.SymbolInfo(ctx, symbol); err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("symbol not available")
		}
	}

	done := make(chan struct{})
	go c.worker(done)

	// Persistence cadence runs aligned so restarts keep bucket names
	// stable. The worker owns the buffers, so the job only signals.
	sched := scheduler.New(scheduler.Options{
		Interval: c.opts.SaveInterval,
		Align:    true,
	}, c.logger)
	go sched.Run(ctx, func(_ context.Context, bucket time.Time) error {
		select {
		case c.flushC <- bucket:
		default:
		}
		return nil
	})

	c.logger.Info().Strs("symbols", c.opts.Symbols).
		Dur("poll_interval", c.opts.PollInterval).
		Msg("real-time collection started")

	if c.source != nil {
		c.streamLoop(ctx)
	} else {
		c.pollLoop(ctx)
	}

	// Ticks enqueued before the close are still processed by the worker.
	close(c.queue)
	select {
	case <-done:
	case <-time.After(c.opts.DrainTimeout):
		c.logger.Warn().Dur("timeout", c.opts.DrainTimeout).Msg("worker drain timed out")
	}

	err := c.provider.Close()
	c.logger.Info().Msg("real-time collection stopped")
	return err
}

// Stats returns a snapshot of collection statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	symbols := make(map[string]SymbolStats, len(c.states))
	for symbol, st := range c.states {
		symbols[symbol] = SymbolStats{
			TotalTicks:    st.totalTicks,
			LastTickTime:  st.lastTickTime,
			AvgSpread:     st.avgSpread.Mean(),
			SealedBars:    st.sealedBars,
			BufferedTicks: st.ring.Len(),
			LateTicks:     st.lateTicks,
			Degraded:      st.degraded,
		}
	}
	return Stats{
		TotalTicks:     c.total,
		TicksPerSecond: c.tps,
		DroppedTicks:   c.dropped.Load(),
		PollErrors:     c.pollErrors.Load(),
		LastSave:       c.lastSave,
		Symbols:        symbols,
	}
}

// pollLoop drives ingestion. All symbols are polled sequentially each
// cycle; the achievable rate is bounded by symbol count times terminal
// latency. The provider handle is only ever touched here.
func (c *Collector) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	lastSeen := make(map[string]int64, len(c.opts.Symbols))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, symbol := range c.opts.Symbols {
			tick, err := c.provider.LatestTick(ctx, symbol)
			if err != nil {
				if errors.Is(err, marketdata.ErrNoTick) || errors.Is(err, context.Canceled) {
					continue
				}
				c.pollErrors.Add(1)
				metrics.CollectionErrors.Inc()
				c.logger.Debug().Err(err).Str("symbol", symbol).Msg("tick poll failed")
				continue
			}

			// The terminal repeats the latest tick until a new one prints.
			if tick.TimeMsc != 0 && tick.TimeMsc == lastSeen[symbol] {
				continue
			}
			lastSeen[symbol] = tick.TimeMsc

			c.enqueue(tick)
		}
	}
}

// enqueue admits a tick without ever blocking ingestion. A full queue
// drops the tick and counts the drop.
func (c *Collector) enqueue(tick marketdata.Tick) {
	select {
	case c.queue <- tick:
		metrics.TicksIngested.WithLabelValues(tick.Symbol).Inc()
	default:
		c.dropped.Add(1)
		metrics.TicksDropped.Inc()
	}
}

// streamLoop forwards pushed ticks into the queue with the same overflow
// behaviour as polling: a full queue drops, never blocks the feed.
func (c *Collector) streamLoop(ctx context.Context) {
	raw := make(chan marketdata.Tick, 1024)
	go func() {
		defer close(raw)
		if err := c.source.Run(ctx, c.opts.Symbols, raw); err != nil && ctx.Err() == nil {
			c.pollErrors.Add(1)
			metrics.CollectionErrors.Inc()
			c.logger.Error().Err(err).Msg("tick stream terminated")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-raw:
			if !ok {
				return
			}
			c.enqueue(tick)
		}
	}
}

// worker consumes the queue and owns every buffer. When the queue closes
// it finishes the backlog, performs a final flush, and signals done.
func (c *Collector) worker(done chan<- struct{}) {
	defer close(done)

	statsTicker := time.NewTicker(c.opts.StatsInterval)
	defer statsTicker.Stop()

	var sinceStats int64
	lastStats := time.Now()

	for {
		select {
		case tick, ok := <-c.queue:
			if !ok {
				c.flushAll(context.Background(), time.Now().UTC(), true)
				return
			}
			c.processTick(tick)
			sinceStats++
		case bucket := <-c.flushC:
			c.flushAll(context.Background(), bucket, false)
		case <-statsTicker.C:
			elapsed := time.Since(lastStats).Seconds()
			if elapsed > 0 {
				c.mu.Lock()
				c.tps = float64(sinceStats) / elapsed
				c.mu.Unlock()
			}
			sinceStats = 0
			lastStats = time.Now()
			c.logStats()
		}
	}
}

func (c *Collector) processTick(tick marketdata.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[tick.Symbol]
	if !ok {
		return
	}

	// The gateway may populate direction on the wire; the stored value is
	// always derived locally so the first tick stays neutral.
	tick.Direction = 0
	price := tick.Price()
	if st.hasLast {
		switch {
		case price > st.lastPrice:
			tick.Direction = 1
		case price < st.lastPrice:
			tick.Direction = -1
		}
	}
	st.lastPrice = price
	st.hasLast = true

	st.ring.Push(tick)
	st.totalTicks++
	c.total++
	st.lastTickTime = tick.Time
	st.avgSpread.Add(tick.Spread())

	sealed, late := st.builder.apply(tick)
	if late {
		st.lateTicks++
		metrics.LateTicks.WithLabelValues(tick.Symbol).Inc()
		c.logger.Debug().Str("symbol", tick.Symbol).Time("tick_time", tick.Time).Msg("late tick folded into open bar")
	}
	if sealed != nil {
		st.bars.Push(*sealed)
		st.sealedBars++
		metrics.BarsSealed.WithLabelValues(tick.Symbol).Inc()
	}
}

// flushAll drains buffers to the sink. A failed symbol keeps its buffers
// for the next cycle and never blocks the other symbols; final seals the
// open bar so the trailing partial minute is not lost at shutdown.
func (c *Collector) flushAll(ctx context.Context, at time.Time, final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := at.UTC().Format("20060102_150405")

	for _, symbol := range c.opts.Symbols {
		st := c.states[symbol]
		if final {
			if open := st.builder.flush(); open != nil {
				st.bars.Push(*open)
				st.sealedBars++
			}
		}
		if st.ring.Len() == 0 && st.bars.Len() == 0 {
			continue
		}

		ticks := st.ring.Snapshot()
		bars := st.bars.Snapshot()

		if err := c.writeBuffers(symbol, bucket, ticks, bars); err != nil {
			st.flushFailures++
			metrics.FlushFailures.WithLabelValues(symbol).Inc()
			if st.flushFailures >= c.opts.MaxFlushFailures {
				st.degraded = true
			}
			c.logger.Error().Err(err).Str("symbol", symbol).
				Int("consecutive_failures", st.flushFailures).
				Bool("degraded", st.degraded).
				Msg("buffer flush failed; retaining buffers")
			continue
		}

		st.flushFailures = 0
		st.degraded = false
		st.ring.Clear()
		// Keep a short bar lookback for downstream consumers.
		st.bars.TrimToLast(c.opts.BarRetainAfterSave)

		if c.recorder != nil {
			for _, bar := range bars {
				if err := c.recorder.RecordBar(ctx, bar); err != nil {
					c.logger.Warn().Err(err).Str("symbol", symbol).Msg("catalog bar record failed")
					break
				}
			}
		}
	}

	c.lastSave = time.Now()
	c.logger.Info().Time("at", c.lastSave).Bool("final", final).Msg("buffers flushed")
}

func (c *Collector) writeBuffers(symbol, bucket string, ticks []marketdata.Tick, bars []marketdata.Bar) error {
	if len(ticks) > 0 {
		if err := c.sink.WriteTicks(symbol, bucket, ticks); err != nil {
			return err
		}
	}
	if len(bars) > 0 {
		if err := c.sink.WriteBars(symbol, bucket, bars); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) logStats() {
	c.mu.Lock()
	total := c.total
	tps := c.tps
	c.mu.Unlock()

	c.logger.Info().
		Int64("total_ticks", total).
		Float64("ticks_per_second", tps).
		Int64("dropped", c.dropped.Load()).
		Int64("poll_errors", c.pollErrors.Load()).
		Msg("collection throughput")
}
