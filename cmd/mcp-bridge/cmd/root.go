// Package cmd provides the CLI commands for the MCP bridge.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
)

var cfgFile string

// stderr receives human-oriented output (banner, probe report). Tests
// replace it.
var stderr io.Writer = os.Stderr

var rootCmd = &cobra.Command{
	Use:   "mcp-bridge",
	Short: "MCP Bridge - plain JSON-RPC front for Streamable HTTP MCP servers",
	Long: `MCP Bridge accepts plain JSON-RPC 2.0 calls over HTTP and forwards them to an
MCP server speaking the Streamable HTTP transport. It performs the initialize
handshake, keeps the upstream session, and unwraps server-sent event streams
so callers always receive a single JSON response.

Quick start:
  1. Point the bridge at an MCP server:
       export MCP_BRIDGE_UPSTREAM_URL=http://localhost:8000
  2. Run: mcp-bridge start
  3. POST JSON-RPC to http://localhost:8002/mcp

Configuration:
  Config is loaded from mcp-bridge.yaml in the current directory,
  $HOME/.mcp-bridge/, or /etc/mcp-bridge/.

  Environment variables can override config values with the MCP_BRIDGE_ prefix.
  Example: MCP_BRIDGE_SERVER_HTTP_ADDR=127.0.0.1:9090
  FASTMCP_SERVER_URL, BRIDGE_HOST and BRIDGE_PORT are also honored.

Commands:
  start       Start the bridge server
  stop        Stop the running server
  probe       Handshake with the upstream and list its tools
  config      Inspect the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-bridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
