package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/mcp-bridge/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bridge server",
	Long: `Start the MCP bridge server.

The bridge listens for plain JSON-RPC calls on /mcp (and /) and forwards them
to the configured Streamable HTTP upstream. The upstream session is created on
the first call and reused until the upstream rejects it.

Examples:
  # Start with config file settings
  mcp-bridge start

  # Start against a specific upstream
  mcp-bridge start --upstream http://localhost:8000

  # Start with a specific config file
  mcp-bridge --config /path/to/config.yaml start`,
	RunE: runStart,
}

var (
	devMode      bool
	upstreamFlag string
	addrFlag     string
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, local origins allowed)")
	startCmd.Flags().StringVar(&upstreamFlag, "upstream", "", "upstream MCP server base URL (overrides upstream.url)")
	startCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides server.http_addr)")
	rootCmd.AddCommand(startCmd)
}

// applyStartFlags copies CLI flags over the loaded configuration.
func applyStartFlags(cfg *config.Config) {
	if devMode {
		cfg.DevMode = true
	}
	if upstreamFlag != "" {
		cfg.Upstream.URL = upstreamFlag
	}
	if addrFlag != "" {
		cfg.Server.HTTPAddr = addrFlag
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidatedConfig(applyStartFlags)
	if err != nil {
		return err
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logger := newLogger(cfg, os.Stderr)
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "dev_mode", cfg.DevMode)

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "mcp-bridge stop" can find us.
	pidPath := pidFilePath(cfg.Server.PIDFile)
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("mcp-bridge stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b, err := newBridge(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer b.client.CloseIdleConnections()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	healthChecker := http.NewHealthChecker(b.client, b.gateway.Sessions(), cfg.Upstream.URL, Version)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithLogger(logger),
		http.WithHealthChecker(healthChecker),
		http.WithRegistry(reg),
		http.WithEndpointInfo(cfg.Upstream.URL, cfg.Upstream.ProtocolVersion, Version),
		// Close the upstream session once callers are drained.
		http.WithShutdownHook(b.gateway.Shutdown),
	}
	if cfg.TLSEnabled() {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := http.NewHTTPTransport(b.gateway, opts...)

	printBanner(Version, cfg)

	if err := transport.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http transport: %w", err)
	}
	return nil
}

// printBanner prints a startup banner to stderr with the listen and
// upstream addresses.
func printBanner(version string, cfg *config.Config) {
	cyan := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	mode := color.GreenString("production")
	if cfg.DevMode {
		mode = color.YellowString("development")
	}

	fmt.Fprintln(stderr)
	cyan.Fprintf(stderr, "  MCP Bridge %s\n", version)
	dim.Fprintln(stderr, "  ─────────────────────────────────────")
	fmt.Fprintf(stderr, "  %-14s %s://%s/mcp\n", "Endpoint:", scheme, addr)
	fmt.Fprintf(stderr, "  %-14s %s\n", "Upstream:", upstream.Target{BaseURL: cfg.Upstream.URL, Path: cfg.Upstream.Path}.EndpointURL())
	fmt.Fprintf(stderr, "  %-14s %s\n", "Protocol:", cfg.Upstream.ProtocolVersion)
	fmt.Fprintf(stderr, "  %-14s %s\n", "Mode:", mode)
	dim.Fprintln(stderr, "  ─────────────────────────────────────")
	fmt.Fprintln(stderr)
}
