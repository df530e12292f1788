package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"version": version,
				"name":    "icsrisk",
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "icsrisk %s\n", version)
		return nil
	},
}
