package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

// newTestTransport creates an HTTPTransport around a stub gateway for
// routing tests.
func newTestTransport(t *testing.T, opts ...Option) (*HTTPTransport, *stubGateway) {
	t.Helper()
	gw := &stubGateway{resp: []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)}
	opts = append([]Option{
		WithAddr("127.0.0.1:0"),
		WithLogger(discardLogger()),
		WithRegistry(prometheus.NewRegistry()),
		WithEndpointInfo("http://tools:8000", "2024-11-05", "test"),
	}, opts...)
	return NewHTTPTransport(gw, opts...), gw
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouting_TableDriven(t *testing.T) {
	const call = `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
		forwarded  bool
	}{
		{"MCP post", http.MethodPost, "/mcp", call, http.StatusOK, `"ok":true`, true},
		{"MCP trailing slash", http.MethodPost, "/mcp/", call, http.StatusOK, `"ok":true`, true},
		{"MCP info", http.MethodGet, "/mcp", "", http.StatusOK, `"transport":"HTTP POST"`, false},
		{"MCP subpath", http.MethodGet, "/mcp/some/sub", "", http.StatusOK, `"protocol":"MCP JSON-RPC"`, false},
		{"root post", http.MethodPost, "/", call, http.StatusOK, `"ok":true`, true},
		{"root info", http.MethodGet, "/", "", http.StatusOK, `"service":"MCP Bridge Server"`, false},
		{"unknown path", http.MethodGet, "/api/v1/data", "", http.StatusNotFound, "", false},
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`, false},
		{"favicon", http.MethodGet, "/favicon.ico", "", http.StatusNoContent, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, gw := newTestTransport(t)
			rec := serve(transport.Handler(), tt.method, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("%s %s body = %s, want it to contain %s", tt.method, tt.path, rec.Body.String(), tt.wantBody)
			}
			if got := gw.callCount() > 0; got != tt.forwarded {
				t.Errorf("%s %s forwarded = %v, want %v", tt.method, tt.path, got, tt.forwarded)
			}
		})
	}
}

func TestRouting_HealthUsesChecker(t *testing.T) {
	hc := NewHealthChecker(stubProber{err: errors.New("down")}, nil, "", "")
	transport, _ := newTestTransport(t, WithHealthChecker(hc))

	rec := serve(transport.Handler(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRouting_RequestIDEchoed(t *testing.T) {
	transport, _ := newTestTransport(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()

	transport.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestRouting_DisallowedOrigin(t *testing.T) {
	transport, gw := newTestTransport(t, WithAllowedOrigins([]string{"http://localhost:3000"}))
	h := transport.Handler()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if gw.callCount() != 0 {
		t.Error("rejected request reached the gateway")
	}

	req = httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("allowed origin status = %d, want 200", rec.Code)
	}
}

func TestRouting_MetricsEndpoint(t *testing.T) {
	transport, _ := newTestTransport(t)
	h := transport.Handler()

	serve(h, http.MethodPost, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	rec := serve(h, http.MethodGet, "/metrics", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mcp_bridge_http_requests_total") {
		t.Errorf("metrics output missing request counter:\n%s", rec.Body.String())
	}
}

func TestTransport_StartAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hookCalls atomic.Int32
	transport, _ := newTestTransport(t, WithShutdownHook(func(context.Context) error {
		hookCalls.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(ctx)
	}()

	var addr string
	deadline := time.Now().Add(5 * time.Second)
	for addr == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		addr = transport.Addr()
	}
	if addr == "" {
		cancel()
		t.Fatal("transport did not start listening")
	}

	client := &http.Client{Transport: &http.Transport{}}
	resp, err := client.Post("http://"+addr+"/mcp", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		cancel()
		t.Fatalf("POST /mcp: %v", err)
	}
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	_ = resp.Body.Close()
	client.CloseIdleConnections()
	if body["result"] == nil {
		t.Errorf("unexpected response: %v", body)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5 seconds after cancel")
	}
	if hookCalls.Load() != 1 {
		t.Errorf("shutdown hook calls = %d, want 1", hookCalls.Load())
	}
}

func TestTransport_ShutdownHookError(t *testing.T) {
	boom := errors.New("terminate failed")
	transport, _ := newTestTransport(t, WithShutdownHook(func(context.Context) error { return boom }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(ctx)
	}()
	for transport.Addr() == "" {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-errCh; !errors.Is(err, boom) {
		t.Errorf("Start() error = %v, want %v", err, boom)
	}
}

func TestTransport_ListenError(t *testing.T) {
	transport, _ := newTestTransport(t, WithAddr("256.0.0.1:99999"))
	if err := transport.Start(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestTransport_CloseBeforeStart(t *testing.T) {
	transport, _ := newTestTransport(t)
	if err := transport.Close(); err != nil {
		t.Errorf("Close() before Start = %v, want nil", err)
	}
	if transport.Addr() != "" {
		t.Errorf("Addr() before Start = %q, want empty", transport.Addr())
	}
}
