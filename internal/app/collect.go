package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"duarte-scalper/internal/history"
	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/storage"
)

// Collect runs the one-shot historical batch job and writes the collection
// report. A partially collected symbol does not fail the command; a fully
// failed one does.
func (a *App) Collect(ctx context.Context, opts CollectOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.EnsureDirs(); err != nil {
		return err
	}

	catalog, closeCatalog, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	if closeCatalog != nil {
		defer closeCatalog()
	}

	// Only one batch job at a time per catalog. File-only deployments
	// skip the lock; they have nothing shared to protect.
	if catalog != nil && a.Config.Database.AdvisoryLockKey != 0 {
		unlock, acquired, err := catalog.TryAdvisoryLock(ctx, a.Config.Database.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			return fmt.Errorf("another collection job holds advisory lock %d", a.Config.Database.AdvisoryLockKey)
		}
		defer unlock()
	}

	months := opts.Months
	if months <= 0 {
		months = a.Config.Data.HistoricalMonths
	}

	var runs storage.RunStore
	if catalog != nil {
		runs = catalog
	}

	sink := storage.NewParquetSink(a.Config.Paths.RawHistorical, a.Logger)
	batch := history.New(a.newProvider(), sink, runs, history.Options{
		Symbols:       a.Config.Trading.Symbols,
		Months:        months,
		ChunkHours:    a.Config.Data.ChunkHours,
		Retries:       a.Config.Data.FetchRetries,
		RetryBackoff:  a.Config.Data.RetryBackoff,
		RatePerSecond: a.Config.Data.ChunkRatePerSecond,
		Timeframe:     marketdata.TimeframeM1,
	}, a.Logger)

	results, runErr := batch.CollectAll(ctx)

	if len(results) > 0 {
		report := history.Report(results, time.Now())
		fmt.Fprint(os.Stdout, report)

		path := filepath.Join(a.Config.Paths.Reports,
			"collection_report_"+time.Now().UTC().Format("20060102_150405")+".txt")
		if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
			a.Logger.Warn().Err(err).Str("path", path).Msg("could not write collection report")
		} else {
			a.Logger.Info().Str("path", path).Msg("collection report written")
		}
	}

	if runErr != nil {
		return runErr
	}

	failed := 0
	for _, result := range results {
		if result.Status == history.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(results))
	}
	return nil
}
