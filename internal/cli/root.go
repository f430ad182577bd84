package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"portfolio-bot/internal/app"
	"portfolio-bot/internal/config"
	"portfolio-bot/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	pretty    bool
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "portfoliobot",
	Short:         "Aggregate brokerage, exchange and bank balances into one portfolio report",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if appHandle != nil || !needsApp(cmd) {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if pretty {
			cfg.Logging.Pretty = true
		}

		appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging, cfg.Secrets()...))
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "portfoliobot:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "path to a YAML config file (env PORTFOLIOBOT_* overrides it)")
	flags.StringVar(&logLevel, "log-level", "", "override logging.level")
	flags.BoolVar(&pretty, "pretty", false, "human-readable console logs")

	rootCmd.AddCommand(runCmd, reportCmd, historyCmd, chartCmd, versionCmd)
}

// needsApp reports whether cmd touches configuration at all. The bare root
// command only prints help.
func needsApp(cmd *cobra.Command) bool {
	return cmd != versionCmd && cmd.HasParent()
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
