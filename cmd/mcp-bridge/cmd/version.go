package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/mcp-bridge/internal/service"
)

// Build information, set with -ldflags at release time.
var (
	Version   = "1.0.0"
	Commit    = "none"
	BuildDate = "unknown"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the bridge version, its build metadata and the MCP protocol version it offers upstream.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if versionShort {
			fmt.Fprintln(out, Version)
			return
		}
		fmt.Fprintf(out, "mcp-bridge %s\n", Version)
		fmt.Fprintf(out, "  Commit:       %s\n", Commit)
		fmt.Fprintf(out, "  Built:        %s\n", BuildDate)
		fmt.Fprintf(out, "  MCP protocol: %s\n", service.DefaultProtocolVersion)
		fmt.Fprintf(out, "  Go:           %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
}
