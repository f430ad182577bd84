package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Telegram bot with scheduled reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch every source once and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), cmd.OutOrStdout())
	},
}
