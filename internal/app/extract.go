package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"duarte-scalper/internal/features"
	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/storage"
)

// Extract computes the tape-reading feature table from a persisted tick
// file and writes it as CSV.
func (a *App) Extract(ctx context.Context, opts ExtractOptions) error {
	if opts.TicksPath == "" {
		return errors.New("--ticks is required")
	}
	if err := a.Config.EnsureDirs(); err != nil {
		return err
	}

	ticks, err := storage.ReadTicks(opts.TicksPath)
	if err != nil {
		return fmt.Errorf("read ticks: %w", err)
	}
	if len(ticks) == 0 {
		return errors.New("tick file is empty")
	}

	symbol := opts.Symbol
	if symbol == "" {
		symbol = ticks[0].Symbol
	}

	var bars []marketdata.Bar
	if opts.BarsPath != "" {
		bars, err = storage.ReadBars(opts.BarsPath)
		if err != nil {
			return fmt.Errorf("read bars: %w", err)
		}
	}

	extractor := features.NewExtractor(a.Config.Trading.TickSize(symbol), a.Logger)
	frame, err := extractor.Extract(ticks, bars)
	if err != nil {
		return err
	}

	outPath := opts.OutPath
	if outPath == "" {
		outPath = filepath.Join(a.Config.Paths.Features,
			fmt.Sprintf("%s_features_%s.csv", symbol, time.Now().UTC().Format("20060102_150405")))
	}
	if err := frame.WriteCSV(outPath); err != nil {
		return err
	}
	a.Logger.Info().Str("path", outPath).Int("rows", frame.Rows()).
		Int("columns", len(frame.Columns())).Msg("feature table written")

	printValidation(extractor.ValidateFeatures(frame))
	return nil
}

func printValidation(report features.ValidationReport) {
	fmt.Fprintf(os.Stdout, "features: %d  rows: %d  infinite: %d  missing: %d\n\n",
		report.TotalFeatures, report.TotalRows, report.InfiniteCells, report.MissingCells)

	names := make([]string, 0, len(report.Ranges))
	for name := range report.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Feature\tMin\tMax\tMean\tStd")
	for _, name := range names {
		stats := report.Ranges[name]
		fmt.Fprintf(writer, "%s\t%.6g\t%.6g\t%.6g\t%.6g\n",
			name, stats.Min, stats.Max, stats.Mean, stats.Std)
	}
	writer.Flush()
}
