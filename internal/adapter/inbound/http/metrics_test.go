package http

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("/mcp", "POST", "2xx").Add(2)
	m.RequestsTotal.WithLabelValues("/mcp", "POST", "4xx").Inc()

	expected := `
# HELP mcp_bridge_http_requests_total Total HTTP requests served, by route, method and status class
# TYPE mcp_bridge_http_requests_total counter
mcp_bridge_http_requests_total{code="2xx",method="POST",route="/mcp"} 2
mcp_bridge_http_requests_total{code="4xx",method="POST",route="/mcp"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "mcp_bridge_http_requests_total"); err != nil {
		t.Errorf("unexpected metrics output: %v", err)
	}
}

func TestNewMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic registering the same metrics twice")
		}
	}()
	NewMetrics(reg)
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/mcp":         "/mcp",
		"/mcp/":        "/mcp",
		"/mcp/a/b":     "/mcp",
		"/":            "/",
		"/mcpx":        "other",
		"/favicon.ico": "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Errorf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
