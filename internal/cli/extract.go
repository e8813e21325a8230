package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"duarte-scalper/internal/app"
)

var (
	extractTicksPath string
	extractBarsPath  string
	extractOutPath   string
	extractSymbol    string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract tape-reading features from a tick file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if extractTicksPath == "" {
			return fmt.Errorf("--ticks must be provided")
		}

		opts := app.ExtractOptions{
			TicksPath: extractTicksPath,
			BarsPath:  extractBarsPath,
			OutPath:   extractOutPath,
			Symbol:    extractSymbol,
		}
		return getApp().Extract(cmd.Context(), opts)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractTicksPath, "ticks", "", "Path to tick parquet file")
	extractCmd.Flags().StringVar(&extractBarsPath, "bars", "", "Path to OHLC parquet file for bar context features")
	extractCmd.Flags().StringVar(&extractOutPath, "out", "", "Output CSV path (defaults to the features directory)")
	extractCmd.Flags().StringVar(&extractSymbol, "symbol", "", "Symbol override for tick-size resolution")
}
