// Package config provides configuration types for the MCP bridge.
//
// The bridge is configured from a YAML file, MCP_BRIDGE_* environment
// variables, and the legacy variables of earlier bridge deployments
// (FASTMCP_SERVER_URL, BRIDGE_HOST, BRIDGE_PORT).
package config

import (
	"time"
)

// Config is the top-level configuration for the bridge.
type Config struct {
	// Server configures the HTTP listener callers connect to.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the Streamable HTTP MCP server calls are translated to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Telemetry configures OpenTelemetry tracing and metrics export.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8002", "0.0.0.0:8002").
	// Defaults to "0.0.0.0:8002".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat selects the slog handler: "text" (default) or "json".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// AllowedOrigins lists browser origins allowed to call the bridge.
	// Requests carrying any other Origin header are rejected.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,http_url"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// PIDFile is where `start` records its process id for `stop`.
	// Defaults to ~/.mcp-bridge/server.pid.
	PIDFile string `yaml:"pid_file" mapstructure:"pid_file"`
}

// UpstreamConfig configures the upstream MCP server.
type UpstreamConfig struct {
	// URL is the base address of the upstream (e.g., "http://localhost:8000").
	URL string `yaml:"url" mapstructure:"url" validate:"required,http_url"`

	// Path is appended to URL for MCP calls. Defaults to "/mcp".
	Path string `yaml:"path" mapstructure:"path"`

	// ProbePath is requested by health checks. Defaults to "/".
	ProbePath string `yaml:"probe_path" mapstructure:"probe_path"`

	// Timeout bounds one upstream round trip including reading the whole
	// stream (e.g., "120s"). Defaults to "120s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// HandshakeTimeout bounds the initialize exchange. Defaults to "30s".
	HandshakeTimeout string `yaml:"handshake_timeout" mapstructure:"handshake_timeout" validate:"omitempty,duration"`

	// ProtocolVersion is announced in the bridge's own initialize.
	// Defaults to "2024-11-05".
	ProtocolVersion string `yaml:"protocol_version" mapstructure:"protocol_version"`

	// ClientName and ClientVersion are announced as clientInfo.
	ClientName    string `yaml:"client_name" mapstructure:"client_name"`
	ClientVersion string `yaml:"client_version" mapstructure:"client_version"`
}

// TelemetryConfig configures OpenTelemetry export to stdout.
type TelemetryConfig struct {
	// Enabled turns on span and metric export. Default: false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// MetricsInterval is how often metrics are exported (e.g., "30s").
	MetricsInterval string `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	c.Server.LogLevel = "debug"

	// Local browser tooling (MCP inspectors) usually runs on these origins.
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://localhost:6274",
			"http://127.0.0.1:6274",
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8002"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}

	// Upstream defaults
	if c.Upstream.Path == "" {
		c.Upstream.Path = "/mcp"
	}
	if c.Upstream.ProbePath == "" {
		c.Upstream.ProbePath = "/"
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "120s"
	}
	if c.Upstream.HandshakeTimeout == "" {
		c.Upstream.HandshakeTimeout = "30s"
	}
	if c.Upstream.ProtocolVersion == "" {
		c.Upstream.ProtocolVersion = "2024-11-05"
	}
	if c.Upstream.ClientName == "" {
		c.Upstream.ClientName = "mcp-bridge"
	}
	if c.Upstream.ClientVersion == "" {
		c.Upstream.ClientVersion = "1.0.0"
	}

	// Telemetry defaults
	if c.Telemetry.MetricsInterval == "" {
		c.Telemetry.MetricsInterval = "30s"
	}
}

// UpstreamTimeout returns the parsed per-request timeout.
// Validate guarantees the value parses.
func (c *Config) UpstreamTimeout() time.Duration {
	return parseDuration(c.Upstream.Timeout)
}

// HandshakeTimeout returns the parsed handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	return parseDuration(c.Upstream.HandshakeTimeout)
}

// MetricsInterval returns the parsed telemetry export interval.
func (c *Config) MetricsInterval() time.Duration {
	return parseDuration(c.Telemetry.MetricsInterval)
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != ""
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
