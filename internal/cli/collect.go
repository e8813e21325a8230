package cli

import (
	"github.com/spf13/cobra"

	"duarte-scalper/internal/app"
)

var collectMonths int

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect historical tick and OHLC data",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CollectOptions{
			Months: collectMonths,
		}
		return getApp().Collect(cmd.Context(), opts)
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectMonths, "months", 0, "Months of history to collect (defaults to config)")
}
