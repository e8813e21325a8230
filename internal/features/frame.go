package features

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Frame is a feature table: one row per input tick, keyed by (symbol,
// timestamp), with named float64 columns in insertion order.
type Frame struct {
	Symbol string
	Times  []time.Time

	names []string
	cols  map[string][]float64
}

// NewFrame allocates a frame over the given row timestamps.
func NewFrame(symbol string, times []time.Time) *Frame {
	return &Frame{
		Symbol: symbol,
		Times:  times,
		cols:   make(map[string][]float64),
	}
}

// Rows returns the row count.
func (f *Frame) Rows() int {
	return len(f.Times)
}

// Columns returns column names in insertion order.
func (f *Frame) Columns() []string {
	return f.names
}

// Column returns the values for a named column, nil when absent.
func (f *Frame) Column(name string) []float64 {
	return f.cols[name]
}

// AddColumn appends a column. The value slice length must match the row
// count; a repeated name overwrites in place keeping its original position.
func (f *Frame) AddColumn(name string, values []float64) error {
	if len(values) != len(f.Times) {
		return fmt.Errorf("column %s has %d values, want %d", name, len(values), len(f.Times))
	}
	if _, exists := f.cols[name]; !exists {
		f.names = append(f.names, name)
	}
	f.cols[name] = values
	return nil
}

// Cleanse forward-fills gaps, zero-fills what remains, and replaces
// infinities with zero. Gap locations are not preserved; consumers that
// need them must inspect the raw columns before cleansing.
func (f *Frame) Cleanse() {
	for _, name := range f.names {
		col := f.cols[name]
		lastValid := math.NaN()
		for i, v := range col {
			if math.IsInf(v, 0) {
				v = 0
			}
			if math.IsNaN(v) {
				if math.IsNaN(lastValid) {
					v = 0
				} else {
					v = lastValid
				}
			} else {
				lastValid = v
			}
			col[i] = v
		}
	}
}

// WriteCSV persists the frame with a time,symbol header prefix.
func (f *Frame) WriteCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append([]string{"time", "symbol"}, f.names...)
	if err := writer.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for i := range f.Times {
		record[0] = f.Times[i].UTC().Format(time.RFC3339Nano)
		record[1] = f.Symbol
		for j, name := range f.names {
			record[j+2] = strconv.FormatFloat(f.cols[name][i], 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
