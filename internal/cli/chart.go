package cli

import (
	"github.com/spf13/cobra"

	"portfolio-bot/internal/app"
)

var (
	chartPNGPath string
	chartDays    int
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render the portfolio history chart as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ChartOptions{
			PNGPath: chartPNGPath,
			Days:    chartDays,
		}

		return getApp().Chart(cmd.Context(), opts)
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartPNGPath, "png", "", "Path to write PNG chart")
	chartCmd.Flags().IntVar(&chartDays, "days", 0, "Number of days to plot (defaults to history.days)")
}
