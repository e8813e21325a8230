package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configDumpOut string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the effective configuration as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if configDumpOut == "" {
			return fmt.Errorf("--out must be provided")
		}
		if err := getApp().Config.DumpJSON(configDumpOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", configDumpOut)
		return nil
	},
}

func init() {
	configDumpCmd.Flags().StringVar(&configDumpOut, "out", "", "Output JSON path")
	configCmd.AddCommand(configDumpCmd)
}
