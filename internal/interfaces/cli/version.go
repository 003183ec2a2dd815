package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo holds version information injected at build time.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func (b BuildInfo) String() string {
	return fmt.Sprintf("molgfn %s (commit: %s, built: %s, %s)", b.Version, b.Commit, b.BuildDate, b.GoVersion)
}

// CurrentBuildInfo reports the ldflags-injected build variables.
func CurrentBuildInfo() BuildInfo {
	return BuildInfo{Version: Version, Commit: GitCommit, BuildDate: BuildDate, GoVersion: runtime.Version()}
}

func newVersionCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				return printJSON(cmd, CurrentBuildInfo())
			}
			return printText(cmd, CurrentBuildInfo())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
