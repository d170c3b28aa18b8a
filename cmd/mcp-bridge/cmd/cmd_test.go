package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/mcp-bridge/internal/config"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: "info", LogFormat: "json"}}

	logger := newLogger(cfg, &buf)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON output, got %q", out)
	}

	buf.Reset()
	cfg.Server.LogFormat = "text"
	cfg.DevMode = true
	newLogger(cfg, &buf).Debug("dev")
	if !strings.Contains(buf.String(), "msg=dev") {
		t.Errorf("dev mode should log debug as text, got %q", buf.String())
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")

	if readPIDFile(path) != 0 {
		t.Error("readPIDFile() on missing file should return 0")
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	_ = os.WriteFile(path, []byte("garbage\n"), 0644)
	if readPIDFile(path) != 0 {
		t.Error("readPIDFile() on garbage should return 0")
	}
}

func TestPIDFilePath(t *testing.T) {
	if got := pidFilePath("/run/bridge.pid"); got != "/run/bridge.pid" {
		t.Errorf("pidFilePath(configured) = %q", got)
	}
	if got := pidFilePath(""); !strings.HasSuffix(got, ".pid") {
		t.Errorf("pidFilePath(\"\") = %q, want a .pid file", got)
	}
}

func TestParseToolsList(t *testing.T) {
	tools, err := parseToolsList([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"echo","description":"Echo input"},{"name":"add"}]}}`))
	if err != nil {
		t.Fatalf("parseToolsList() error: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "echo" || tools[1].Name != "add" {
		t.Errorf("tools = %+v", tools)
	}

	_, err = parseToolsList([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32001,"message":"upstream unavailable"}}`))
	if err == nil || !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("parseToolsList(error) = %v", err)
	}

	if _, err := parseToolsList([]byte(`{"jsonrpc":"2.0","id":1}`)); err == nil {
		t.Error("parseToolsList() without result should fail")
	}
	if _, err := parseToolsList([]byte(`not json`)); err == nil {
		t.Error("parseToolsList() with invalid JSON should fail")
	}
}

func TestPrintProbeReport(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	printProbeReport(&buf, probeReport{
		Endpoint: "http://tools:8000/mcp",
		Status:   upstream.StatusConnected,
		Session:  "0123456789abcdef",
		Tools:    []toolInfo{{Name: "echo", Description: "Echo input"}},
		Elapsed:  42 * time.Millisecond,
	})
	out := buf.String()
	for _, want := range []string{"http://tools:8000/mcp", "connected", "0123456789abcdef", "Tools:     1", "echo", "Echo input"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printProbeReport(&buf, probeReport{
		Endpoint: "http://tools:8000/mcp",
		Status:   upstream.StatusDisconnected,
		ProbeErr: upstream.ErrUnavailable,
	})
	if !strings.Contains(buf.String(), "disconnected") {
		t.Errorf("report should show disconnected:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Tools:") {
		t.Error("unreachable report should not list tools")
	}
}

func TestWriteConfigYAML(t *testing.T) {
	cfg := &config.Config{Upstream: config.UpstreamConfig{URL: "http://tools:8000"}}
	cfg.SetDefaults()

	var buf bytes.Buffer
	if err := writeConfigYAML(&buf, cfg); err != nil {
		t.Fatalf("writeConfigYAML() error: %v", err)
	}

	var back config.Config
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if back.Upstream.URL != "http://tools:8000" || back.Server.HTTPAddr != "0.0.0.0:8002" {
		t.Errorf("unexpected round trip: %+v", back)
	}
	if !strings.Contains(buf.String(), "handshake_timeout: 30s") {
		t.Errorf("expected snake_case keys:\n%s", buf.String())
	}
}

func TestApplyStartFlags(t *testing.T) {
	devMode, upstreamFlag, addrFlag = true, "http://override:9000", "127.0.0.1:7000"
	t.Cleanup(func() { devMode, upstreamFlag, addrFlag = false, "", "" })

	cfg := &config.Config{Upstream: config.UpstreamConfig{URL: "http://file:8000"}}
	applyStartFlags(cfg)

	if !cfg.DevMode || cfg.Upstream.URL != "http://override:9000" || cfg.Server.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}

func TestVersionCommand(t *testing.T) {
	defer func() { versionShort = false }()

	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)
	if !strings.Contains(out.String(), "mcp-bridge "+Version) || !strings.Contains(out.String(), "MCP protocol: 2024-11-05") {
		t.Errorf("version output = %q", out.String())
	}

	out.Reset()
	versionShort = true
	versionCmd.Run(versionCmd, nil)
	if out.String() != Version+"\n" {
		t.Errorf("short version output = %q, want %q", out.String(), Version+"\n")
	}
}

func TestWaitForExit_Self(t *testing.T) {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if waitForExit(proc, 250*time.Millisecond) {
		t.Error("waitForExit() reported the test process as exited")
	}
	if time.Since(start) < 250*time.Millisecond {
		t.Error("waitForExit() returned before its timeout")
	}
}
