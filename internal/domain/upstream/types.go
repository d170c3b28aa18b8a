// Package upstream contains domain types for the single Streamable HTTP
// upstream the bridge forwards to, and the error taxonomy used to classify
// upstream failures.
package upstream

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ConnectionStatus represents the runtime reachability of the upstream.
type ConnectionStatus string

const (
	// StatusConnected indicates the upstream answered the last probe.
	StatusConnected ConnectionStatus = "connected"
	// StatusDisconnected indicates the upstream could not be reached.
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Target describes where the upstream lives.
type Target struct {
	// BaseURL is the scheme and host of the upstream (e.g. "http://localhost:8000").
	BaseURL string
	// Path is the MCP endpoint path on the upstream (e.g. "/mcp").
	Path string
	// ProbePath is the path requested by reachability probes.
	ProbePath string
	// Timeout bounds a single upstream round trip.
	Timeout time.Duration
}

// Validate checks that the target has a usable URL.
func (t Target) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("upstream url is required")
	}
	parsed, err := url.Parse(t.BaseURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("upstream url %q is not a valid URL", t.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("upstream url scheme must be http or https, got %q", parsed.Scheme)
	}
	return nil
}

// EndpointURL returns the full URL of the MCP endpoint.
func (t Target) EndpointURL() string {
	return joinURL(t.BaseURL, t.Path)
}

// ProbeURL returns the full URL requested by reachability probes.
func (t Target) ProbeURL() string {
	return joinURL(t.BaseURL, t.ProbePath)
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" || path == "/" {
		return base + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
