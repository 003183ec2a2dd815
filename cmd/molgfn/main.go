// Command molgfn trains fragment-based molecule GFlowNets.
package main

import (
	"os"

	"github.com/turtacn/molgfn/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate

	// Execute reports the error itself.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
