package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
	"github.com/Sentinel-Gate/mcp-bridge/pkg/mcp"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Handshake with the upstream and list its tools",
	Long: `Connect to the configured upstream exactly as the server would: check that it
answers, perform the initialize handshake, and call tools/list. The session is
closed again before the command exits.

Examples:
  # Probe the configured upstream
  mcp-bridge probe

  # Probe another server
  mcp-bridge probe --upstream http://localhost:8000`,
	RunE: runProbe,
}

var (
	probeUpstream string
	probeVerbose  bool
)

func init() {
	probeCmd.Flags().StringVar(&probeUpstream, "upstream", "", "upstream MCP server base URL (overrides upstream.url)")
	probeCmd.Flags().BoolVarP(&probeVerbose, "verbose", "v", false, "log the exchange to stderr")
	rootCmd.AddCommand(probeCmd)
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// probeReport is what one probe found out about the upstream.
type probeReport struct {
	Endpoint string
	Status   upstream.ConnectionStatus
	ProbeErr error
	Session  string
	Tools    []toolInfo
	CallErr  error
	Elapsed  time.Duration
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidatedConfig(func(c *config.Config) {
		if probeUpstream != "" {
			c.Upstream.URL = probeUpstream
		}
	})
	if err != nil {
		return err
	}

	logOut := io.Discard
	if probeVerbose {
		logOut = stderr
		cfg.DevMode = true
	}
	logger := newLogger(cfg, logOut)

	b, err := newBridge(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer b.client.CloseIdleConnections()
	defer func() { _ = b.telemetry.Shutdown(context.Background()) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.UpstreamTimeout())
	defer cancel()

	report := probeReport{
		Endpoint: upstream.Target{BaseURL: cfg.Upstream.URL, Path: cfg.Upstream.Path}.EndpointURL(),
		Status:   upstream.StatusConnected,
	}
	start := time.Now()

	if err := b.client.Probe(ctx); err != nil {
		report.Status = upstream.StatusDisconnected
		report.ProbeErr = err
	} else {
		req, err := mcp.NewRequest(1, "tools/list", map[string]any{})
		if err != nil {
			return err
		}
		report.Tools, report.CallErr = parseToolsList(b.gateway.Handle(ctx, req))
		if cur, ok := b.gateway.Sessions().Current(); ok {
			report.Session = cur.Fingerprint()
		}
		if err := b.gateway.Shutdown(ctx); err != nil {
			logger.Warn("failed to close upstream session", "error", err)
		}
	}
	report.Elapsed = time.Since(start)

	printProbeReport(cmd.OutOrStdout(), report)
	if report.ProbeErr != nil {
		return fmt.Errorf("upstream unreachable: %w", report.ProbeErr)
	}
	if report.CallErr != nil {
		return report.CallErr
	}
	return nil
}

// parseToolsList extracts the tools from a tools/list response, turning a
// JSON-RPC error into a Go error.
func parseToolsList(resp []byte) ([]toolInfo, error) {
	var out struct {
		Result *struct {
			Tools []toolInfo `json:"tools"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode tools/list response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %s (code %d)", out.Error.Message, out.Error.Code)
	}
	if out.Result == nil {
		return nil, errors.New("tools/list response has no result")
	}
	return out.Result.Tools, nil
}

func printProbeReport(w io.Writer, r probeReport) {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	name := color.New(color.FgCyan)
	dim := color.New(color.FgHiBlack)

	fmt.Fprintf(w, "Upstream:  %s\n", r.Endpoint)
	if r.ProbeErr != nil {
		bad.Fprintf(w, "Status:    %s (%v)\n", r.Status, r.ProbeErr)
		return
	}
	ok.Fprintf(w, "Status:    %s\n", r.Status)

	if r.Session != "" {
		fmt.Fprintf(w, "Session:   %s\n", r.Session)
	}
	if r.CallErr != nil {
		bad.Fprintf(w, "tools/list: %v\n", r.CallErr)
		return
	}

	fmt.Fprintf(w, "Tools:     %d", len(r.Tools))
	dim.Fprintf(w, " (%s)\n", r.Elapsed.Round(time.Millisecond))
	for _, t := range r.Tools {
		name.Fprintf(w, "  %s", t.Name)
		if t.Description != "" {
			dim.Fprintf(w, "  %s", t.Description)
		}
		fmt.Fprintln(w)
	}
}
