package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"portfolio-bot/internal/version"
)

var shortVersion bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information (no config is loaded)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if shortVersion {
			fmt.Fprintln(out, version.Version)
			return
		}
		fmt.Fprintln(out, version.String())
		fmt.Fprintf(out, "go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&shortVersion, "short", false, "print only the version number")
}
