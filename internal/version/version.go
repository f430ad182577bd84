package version

import "fmt"

var (
	// Version is the release of the portfoliobot binary, set with -ldflags.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("portfoliobot %s (commit %s, built %s)", Version, Commit, BuildDate)
}
