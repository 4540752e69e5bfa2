package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildRevision falls back to the VCS stamp embedded by the Go toolchain when
// the binary was built without -ldflags.
func buildRevision(commit, date string) (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return commit, date
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "none" || commit == "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "unknown" || date == "" {
				date = s.Value
			}
		}
	}
	return commit, date
}

func newVersionCmd(version, commit, date string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			commit, date := buildRevision(commit, date)
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]string{
					"version":    version,
					"commit":     commit,
					"built":      date,
					"go_version": runtime.Version(),
					"platform":   runtime.GOOS + "/" + runtime.GOARCH,
				})
			}

			fmt.Fprintf(out, "proposalgate %s\n", version)
			fmt.Fprintf(out, "  commit:  %s\n", commit)
			fmt.Fprintf(out, "  built:   %s\n", date)
			fmt.Fprintf(out, "  go:      %s\n", runtime.Version())
			fmt.Fprintf(out, "  os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	return cmd
}
