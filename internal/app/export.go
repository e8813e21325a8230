package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"duarte-scalper/internal/marketdata"
	"duarte-scalper/internal/storage"
)

// Export renders a bar series as CSV and/or PNG. Bars come from a parquet
// file when --input is given, otherwise from the catalog.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	if opts.MaxPoints <= 0 {
		opts.MaxPoints = a.Config.Export.MaxDataPoints
	}

	bars, err := a.loadExportBars(ctx, opts)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		a.Logger.Info().Msg("no bars found for export window")
		return nil
	}

	downsampled := downsampleBars(bars, opts.MaxPoints)
	a.Logger.Info().Int("total", len(bars)).Int("exported", len(downsampled)).Msg("exporting bars")

	if opts.CSVPath != "" {
		if err := writeBarsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeBarsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) loadExportBars(ctx context.Context, opts ExportOptions) ([]marketdata.Bar, error) {
	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -7)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}

	if opts.InputPath != "" {
		bars, err := storage.ReadBars(opts.InputPath)
		if err != nil {
			return nil, err
		}
		filtered := bars[:0]
		for _, bar := range bars {
			if bar.Time.Before(from) || bar.Time.After(to) {
				continue
			}
			filtered = append(filtered, bar)
		}
		return filtered, nil
	}

	if opts.Symbol == "" {
		return nil, errors.New("--symbol is required without --input")
	}

	catalog, closeCatalog, err := a.openCatalog(ctx)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, errors.New("database not configured; provide --input or database.dsn")
	}
	defer closeCatalog()

	rows, err := catalog.ListBarsBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return nil, err
	}
	bars := make([]marketdata.Bar, len(rows))
	for i, row := range rows {
		bars[i] = row.Bar()
	}
	return bars, nil
}

func downsampleBars(bars []marketdata.Bar, max int) []marketdata.Bar {
	if max <= 0 || len(bars) <= max {
		return bars
	}

	result := make([]marketdata.Bar, 0, max)
	step := float64(len(bars)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		result = append(result, bars[idx])
	}
	return result
}

func writeBarsCSV(path string, bars []marketdata.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"time", "symbol", "open", "high", "low", "close", "volume", "tick_count", "typical_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, bar := range bars {
		record := []string{
			bar.Time.UTC().Format(time.RFC3339),
			bar.Symbol,
			formatFloat(bar.Open),
			formatFloat(bar.High),
			formatFloat(bar.Low),
			formatFloat(bar.Close),
			formatFloat(bar.Volume),
			strconv.FormatInt(bar.TickCount, 10),
			formatFloat(bar.TypicalPrice),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeBarsPNG(path string, bars []marketdata.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(bars))
	closes := make([]float64, len(bars))
	typical := make([]float64, len(bars))
	volume := make([]float64, len(bars))
	for i, bar := range bars {
		x[i] = bar.Time
		closes[i] = bar.Close
		typical[i] = bar.TypicalPrice
		volume[i] = bar.Volume
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
			},
			chart.TimeSeries{
				Name:    "Typical",
				XValues: x,
				YValues: typical,
			},
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
