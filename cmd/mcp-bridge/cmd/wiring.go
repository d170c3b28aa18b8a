package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	mcpclient "github.com/Sentinel-Gate/mcp-bridge/internal/adapter/outbound/mcp"
	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
	"github.com/Sentinel-Gate/mcp-bridge/internal/service"
	"github.com/Sentinel-Gate/mcp-bridge/internal/telemetry"
)

// bridge holds the components shared by the start and probe commands.
type bridge struct {
	client    *mcpclient.StreamableHTTPClient
	gateway   *service.GatewayService
	telemetry *telemetry.Providers
}

// newBridge builds the upstream client and gateway service from cfg.
// reg may be nil when no Prometheus metrics are served.
func newBridge(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*bridge, error) {
	target := upstream.Target{
		BaseURL:   cfg.Upstream.URL,
		Path:      cfg.Upstream.Path,
		ProbePath: cfg.Upstream.ProbePath,
		Timeout:   cfg.UpstreamTimeout(),
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	tel, err := telemetry.Setup(telemetry.Config{
		Enabled:         cfg.Telemetry.Enabled,
		ServiceName:     "mcp-bridge",
		ServiceVersion:  Version,
		MetricsInterval: cfg.MetricsInterval(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	client := mcpclient.NewStreamableHTTPClient(target,
		mcpclient.WithProtocolVersion(cfg.Upstream.ProtocolVersion),
		mcpclient.WithTracerProvider(tel.TracerProvider),
	)

	opts := []service.Option{
		service.WithProtocolVersion(cfg.Upstream.ProtocolVersion),
		service.WithClientInfo(cfg.Upstream.ClientName, cfg.Upstream.ClientVersion),
		service.WithHandshakeTimeout(cfg.HandshakeTimeout()),
		service.WithLogger(logger),
		service.WithTelemetry(tel.TracerProvider, tel.MeterProvider),
	}
	if reg != nil {
		opts = append(opts, service.WithMetrics(service.NewMetrics(reg)))
	}

	logger.Debug("upstream configured", "endpoint", target.EndpointURL(), "timeout", target.Timeout)
	return &bridge{
		client:    client,
		gateway:   service.NewGatewayService(client, opts...),
		telemetry: tel,
	}, nil
}

// newLogger builds the process logger from the server settings.
// Priority: DevMode=true -> debug, otherwise use configured log_level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Server.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadValidatedConfig loads the config, applies CLI overrides, then dev
// defaults, then validates.
func loadValidatedConfig(overrides func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if overrides != nil {
		overrides(cfg)
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
