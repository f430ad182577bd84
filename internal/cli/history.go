package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"portfolio-bot/internal/app"
)

var (
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display recent daily snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.HistoryOptions{
			Limit: historyLimit,
		}

		return getApp().History(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Number of snapshots to display (defaults to history.days)")
}
