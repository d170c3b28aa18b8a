package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
)

// stopWaitTimeout exceeds the server's own drain and terminate window.
const (
	stopWaitTimeout  = 15 * time.Second
	stopPollInterval = 200 * time.Millisecond
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running bridge server",
	Long: `Stop a running bridge server by reading its PID file and sending SIGTERM.
The server finishes in-flight calls and closes its upstream session first.

The PID file is located at ~/.mcp-bridge/server.pid unless server.pid_file
is configured.

Examples:
  # Stop the running server
  mcp-bridge stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	pidPath := pidFilePath(cfg.Server.PIDFile)

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no server PID file found at %s\nIs the server running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}

	if !processIsAlive(proc) {
		_ = os.Remove(pidPath)
		return fmt.Errorf("server process %d is not running (stale PID file removed)", pid)
	}

	fmt.Fprintf(stderr, "Stopping mcp-bridge server (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if waitForExit(proc, stopWaitTimeout) {
		_ = os.Remove(pidPath)
		fmt.Fprintln(stderr, "Server stopped.")
		return nil
	}

	fmt.Fprintln(stderr, "Server did not stop in time, killing it.")
	_ = proc.Kill()
	_ = os.Remove(pidPath)
	return nil
}

// waitForExit polls proc until it exits or timeout passes.
func waitForExit(proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(stopPollInterval)
		if !processIsAlive(proc) {
			return true
		}
	}
	return false
}
