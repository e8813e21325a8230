package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"duarte-scalper/internal/collector"
	"duarte-scalper/internal/config"
	"duarte-scalper/internal/logging"
	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/metrics"
	"duarte-scalper/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newProvider() marketdata.Provider {
	return marketdata.NewGateway(marketdata.GatewayOptions{
		BaseURL:   a.Config.Gateway.BaseURL,
		Timeout:   a.Config.Gateway.RequestTimeout,
		UserAgent: a.Config.Gateway.UserAgent,
	}, a.Logger)
}

// openCatalog returns nil without error when no DSN is configured: every
// command works file-only, the catalog is an overlay.
func (a *App) openCatalog(ctx context.Context) (*storage.Catalog, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	catalog := storage.NewCatalog(pool)
	return catalog, catalog.Close, nil
}

// liveSink adapts the parquet sink to the collector's buffer contract,
// fixing the bucket naming scheme in one place.
type liveSink struct {
	sink      *storage.ParquetSink
	timeframe string
}

func (s *liveSink) WriteTicks(symbol, bucket string, ticks []marketdata.Tick) error {
	return s.sink.WriteTicks(s.sink.TickPath(symbol, bucket), ticks)
}

func (s *liveSink) WriteBars(symbol, bucket string, bars []marketdata.Bar) error {
	return s.sink.WriteBars(s.sink.BarPath(symbol, s.timeframe, bucket), s.timeframe, bars)
}

// catalogRecorder mirrors sealed minute bars into the run catalog.
type catalogRecorder struct {
	catalog   *storage.Catalog
	timeframe string
}

func (r *catalogRecorder) RecordBar(ctx context.Context, bar marketdata.Bar) error {
	return r.catalog.UpsertMinuteBar(ctx, storage.NewBarRow(bar, r.timeframe))
}

var (
	_ collector.Sink        = (*liveSink)(nil)
	_ collector.BarRecorder = (*catalogRecorder)(nil)
)

// Run executes the long-running real-time collection service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.EnsureDirs(); err != nil {
		return err
	}

	catalog, closeCatalog, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	if catalog == nil {
		a.Logger.Warn().Msg("database.dsn not configured; run catalog disabled")
	}
	if closeCatalog != nil {
		defer closeCatalog()
	}

	if addr := a.Config.Communication.MetricsAddr; addr != "" {
		server := metrics.Serve(addr)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		a.Logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
	}

	sink := &liveSink{
		sink:      storage.NewParquetSink(a.Config.Paths.RawLive, a.Logger),
		timeframe: string(marketdata.TimeframeM1),
	}

	var recorder collector.BarRecorder
	if catalog != nil {
		recorder = &catalogRecorder{catalog: catalog, timeframe: string(marketdata.TimeframeM1)}
	}

	var source collector.TickSource
	if streamURL := a.Config.Gateway.StreamURL; streamURL != "" {
		source = marketdata.NewStream(streamURL, a.Logger)
		a.Logger.Info().Str("url", streamURL).Msg("using websocket tick stream")
	}

	engine := collector.New(a.newProvider(), source, sink, recorder, collector.Options{
		Symbols:            a.Config.Trading.Symbols,
		PollInterval:       a.Config.Data.TickPollInterval,
		SaveInterval:       a.Config.Data.SaveInterval,
		StatsInterval:      a.Config.Data.StatsInterval,
		QueueCapacity:      a.Config.Data.QueueCapacity,
		TickBufferSize:     a.Config.Data.TickBufferSize,
		BarBufferSize:      a.Config.Data.BarBufferSize,
		BarRetainAfterSave: a.Config.Data.BarRetainAfterSave,
	}, a.Logger)

	a.Logger.Info().Msg("starting real-time collection service")
	err = engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("real-time collection service stopped")
	return nil
}

// CollectOptions configure the historical batch job.
type CollectOptions struct {
	Months int
}

// ExtractOptions configure feature extraction.
type ExtractOptions struct {
	TicksPath string
	BarsPath  string
	OutPath   string
	Symbol    string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting bar series.
type ExportOptions struct {
	Symbol    string
	InputPath string
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}
