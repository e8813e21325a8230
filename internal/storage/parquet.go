package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"

	"duarte-scalper/internal/marketdata"
)

// ParquetSink writes tick and bar batches as snappy-compressed parquet
// files, one file per (symbol, kind, time bucket). It is a pure write sink;
// readers exist only for the extract/export commands.
type ParquetSink struct {
	dir    string
	logger zerolog.Logger
}

// NewParquetSink constructs a sink rooted at dir.
func NewParquetSink(dir string, logger zerolog.Logger) *ParquetSink {
	return &ParquetSink{
		dir:    dir,
		logger: logger.With().Str("component", "parquet_sink").Logger(),
	}
}

// TickPath names the output file for a tick batch.
func (s *ParquetSink) TickPath(symbol, bucket string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_ticks_%s.parquet", symbol, bucket))
}

// BarPath names the output file for a bar batch.
func (s *ParquetSink) BarPath(symbol, timeframe, bucket string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_ohlc_%s_%s.parquet", symbol, timeframe, bucket))
}

// WriteTicks persists a tick batch. An empty batch is a no-op.
func (s *ParquetSink) WriteTicks(path string, ticks []marketdata.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	rows := make([]TickRow, len(ticks))
	for i, t := range ticks {
		rows[i] = NewTickRow(t)
	}
	if err := writeRows(path, rows); err != nil {
		return fmt.Errorf("write ticks %s: %w", path, err)
	}
	s.logSaved(path, len(rows))
	return nil
}

// WriteBars persists a bar batch. An empty batch is a no-op.
func (s *ParquetSink) WriteBars(path, timeframe string, bars []marketdata.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = NewBarRow(b, timeframe)
	}
	if err := writeRows(path, rows); err != nil {
		return fmt.Errorf("write bars %s: %w", path, err)
	}
	s.logSaved(path, len(rows))
	return nil
}

// ReadTicks loads a persisted tick file.
func ReadTicks(path string) ([]marketdata.Tick, error) {
	rows, err := parquet.ReadFile[TickRow](path)
	if err != nil {
		return nil, fmt.Errorf("read ticks %s: %w", path, err)
	}
	ticks := make([]marketdata.Tick, len(rows))
	for i, r := range rows {
		ticks[i] = r.Tick()
	}
	return ticks, nil
}

// ReadBars loads a persisted bar file.
func ReadBars(path string) ([]marketdata.Bar, error) {
	rows, err := parquet.ReadFile[BarRow](path)
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", path, err)
	}
	bars := make([]marketdata.Bar, len(rows))
	for i, r := range rows {
		bars[i] = r.Bar()
	}
	return bars, nil
}

func writeRows[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file first so a failed flush never truncates an
	// existing good file.
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *ParquetSink) logSaved(path string, rows int) {
	var sizeMB float64
	if info, err := os.Stat(path); err == nil {
		sizeMB = float64(info.Size()) / (1024 * 1024)
	}
	s.logger.Info().
		Str("file", filepath.Base(path)).
		Int("rows", rows).
		Float64("size_mb", sizeMB).
		Msg("parquet file written")
}
