package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Legacy environment variables of earlier bridge deployments.
const (
	legacyUpstreamURLEnv = "FASTMCP_SERVER_URL"
	legacyHostEnv        = "BRIDGE_HOST"
	legacyPortEnv        = "BRIDGE_PORT"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for mcp-bridge.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("mcp-bridge")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MCP_BRIDGE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("MCP_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an mcp-bridge config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcp-bridge"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\mcp-bridge (typically C:\ProgramData\mcp-bridge)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcp-bridge"))
		}
	} else {
		paths = append(paths, "/etc/mcp-bridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for mcp-bridge.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mcp-bridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: MCP_BRIDGE_UPSTREAM_TIMEOUT overrides upstream.timeout
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")
	_ = viper.BindEnv("server.allowed_origins")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")
	_ = viper.BindEnv("server.pid_file")

	// Upstream config; the legacy name is consulted after the prefixed one.
	_ = viper.BindEnv("upstream.url", "MCP_BRIDGE_UPSTREAM_URL", legacyUpstreamURLEnv)
	_ = viper.BindEnv("upstream.path")
	_ = viper.BindEnv("upstream.probe_path")
	_ = viper.BindEnv("upstream.timeout")
	_ = viper.BindEnv("upstream.handshake_timeout")
	_ = viper.BindEnv("upstream.protocol_version")
	_ = viper.BindEnv("upstream.client_name")
	_ = viper.BindEnv("upstream.client_version")

	// Telemetry config
	_ = viper.BindEnv("telemetry.enabled")
	_ = viper.BindEnv("telemetry.metrics_interval")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// applyLegacyListenEnv builds server.http_addr from BRIDGE_HOST and
// BRIDGE_PORT when no address was configured explicitly.
func applyLegacyListenEnv(cfg *Config) {
	if viper.IsSet("server.http_addr") {
		return
	}
	host, hasHost := os.LookupEnv(legacyHostEnv)
	port, hasPort := os.LookupEnv(legacyPortEnv)
	if !hasHost && !hasPort {
		return
	}
	if !hasHost || host == "" {
		host = "0.0.0.0"
	}
	if !hasPort || port == "" {
		port = "8002"
	}
	cfg.Server.HTTPAddr = net.JoinHostPort(host, port)
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyLegacyListenEnv(&cfg)
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
