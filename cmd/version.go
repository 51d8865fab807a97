package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livedoc/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for livedoc: version, commit, build time,
Go version and target platform.

Examples:
  livedoc version               # Show version details
  livedoc version --short       # Show the version only
  livedoc version --format json # Output as JSON`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), versionFormat, versionShort)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func writeVersion(w io.Writer, format string, short bool) error {
	info := version.GetBuildInfo()

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
		if short {
			fmt.Fprintln(w, version.GetShortVersion())
			return nil
		}
		fmt.Fprintf(w, "livedoc %s\n", info.Version)
		if info.GitCommit != "unknown" {
			fmt.Fprintf(w, "  commit:   %s\n", info.GitCommit)
		}
		if !info.BuildTime.IsZero() {
			fmt.Fprintf(w, "  built:    %s\n", info.BuildTime.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "  go:       %s\n", info.GoVersion)
		fmt.Fprintf(w, "  platform: %s\n", info.Platform)
		if info.Dirty {
			fmt.Fprintln(w, "  (built from a modified working tree)")
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}
