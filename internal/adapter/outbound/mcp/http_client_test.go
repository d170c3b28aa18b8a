package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Sentinel-Gate/mcp-bridge/internal/ctxkey"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
)

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *StreamableHTTPClient {
	t.Helper()
	c := NewStreamableHTTPClient(upstream.Target{
		BaseURL:   srv.URL,
		Path:      "/mcp",
		ProbePath: "/",
		Timeout:   timeout,
	}, WithProtocolVersion("2024-11-05"))
	return c
}

// TestSend_Headers verifies the transport headers on a session request.
func TestSend_Headers(t *testing.T) {
	defer goleak.VerifyNone(t)

	var got http.Header
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/mcp" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		got = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		_, _ = io.WriteString(w, "event: message\ndata: {}\n\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()
	stream, err := client.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), "abc")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	defer func() { _ = stream.Close() }()

	if got.Get("Accept") != "application/json, text/event-stream" {
		t.Errorf("Accept = %q", got.Get("Accept"))
	}
	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if got.Get(HeaderSessionID) != "abc" {
		t.Errorf("Mcp-Session-Id = %q, want abc", got.Get(HeaderSessionID))
	}
	if got.Get(HeaderProtocolVersion) != "2024-11-05" {
		t.Errorf("MCP-Protocol-Version = %q", got.Get(HeaderProtocolVersion))
	}
	if gotBody != `{"jsonrpc":"2.0","id":1,"method":"ping"}` {
		t.Errorf("body = %q", gotBody)
	}
	if !stream.IsEventStream() {
		t.Errorf("MediaType = %q, want text/event-stream", stream.MediaType)
	}
	body, _ := io.ReadAll(stream.Body)
	if string(body) != "event: message\ndata: {}\n\n" {
		t.Errorf("stream body = %q", body)
	}
}

// TestSend_ForwardsRequestID verifies the caller's request id reaches the
// upstream.
func TestSend_ForwardsRequestID(t *testing.T) {
	defer goleak.VerifyNone(t)

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()

	ctx := context.WithValue(context.Background(), ctxkey.RequestIDKey{}, "req-42")
	stream, err := client.Send(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`), "")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = stream.Close()

	if got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

// TestSend_NoSessionOmitsHeaders verifies the handshake request carries no
// session headers and the assigned id is surfaced.
func TestSend_NoSessionOmitsHeaders(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header[HeaderSessionID]; ok {
			t.Error("Mcp-Session-Id must not be sent without a session")
		}
		if _, ok := r.Header[HeaderProtocolVersion]; ok {
			t.Error("MCP-Protocol-Version must not be sent without a session")
		}
		w.Header().Set(HeaderSessionID, "new-session")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":0,"result":{}}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()
	stream, err := client.Send(context.Background(), []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	defer func() { _ = stream.Close() }()

	if stream.SessionID != "new-session" {
		t.Errorf("SessionID = %q, want new-session", stream.SessionID)
	}
	if stream.MediaType != "application/json" {
		t.Errorf("MediaType = %q", stream.MediaType)
	}
}

// TestSend_SessionRejected verifies 404 and session-related 400 responses
// are reported as ErrSessionInvalid.
func TestSend_SessionRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name        string
		status      int
		body        string
		sessionID   string
		wantInvalid bool
	}{
		{"404 with session", http.StatusNotFound, "not found", "s1", true},
		{"400 naming session", http.StatusBadRequest, `{"error":"Bad Request: No valid session ID provided"}`, "s1", true},
		{"400 unrelated", http.StatusBadRequest, "malformed json", "s1", false},
		{"404 without session", http.StatusNotFound, "not found", "", false},
		{"500 with session", http.StatusInternalServerError, "boom", "s1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := newTestClient(t, srv, 5*time.Second)
			_, err := client.Send(context.Background(), []byte(`{}`), tt.sessionID)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, upstream.ErrSessionInvalid); got != tt.wantInvalid {
				t.Errorf("ErrSessionInvalid = %v, want %v (err: %v)", got, tt.wantInvalid, err)
			}
			if !tt.wantInvalid {
				var te *upstream.TransportError
				if !errors.As(err, &te) || te.StatusCode != tt.status {
					t.Errorf("expected TransportError with status %d, got %v", tt.status, err)
				}
			}
		})
	}
}

// TestSend_ConnectionRefused verifies dial failures are transport errors.
func TestSend_ConnectionRefused(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewStreamableHTTPClient(upstream.Target{BaseURL: url, Path: "/mcp", Timeout: time.Second})
	defer client.CloseIdleConnections()

	_, err := client.Send(context.Background(), []byte(`{}`), "")
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

// TestSend_Timeout verifies the per-request timeout bounds a stalled upstream.
func TestSend_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv, 50*time.Millisecond)
	defer client.CloseIdleConnections()
	start := time.Now()
	_, err := client.Send(context.Background(), []byte(`{}`), "s")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var te *upstream.TransportError
	if !errors.As(err, &te) || !te.Timeout() {
		t.Errorf("expected timeout TransportError, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Send took %v, timeout not applied", time.Since(start))
	}
}

// TestSend_FollowsRedirect verifies redirects from the upstream are followed.
func TestSend_FollowsRedirect(t *testing.T) {
	defer goleak.VerifyNone(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/mcp/", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/mcp/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()
	stream, err := client.Send(context.Background(), []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	_ = stream.Close()
}

func TestProbe(t *testing.T) {
	defer goleak.VerifyNone(t)

	var status atomic.Int32
	status.Store(http.StatusNotFound)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/" {
			t.Errorf("unexpected probe %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()
	if err := client.Probe(context.Background()); err != nil {
		t.Errorf("404 should count as reachable, got %v", err)
	}

	status.Store(http.StatusBadGateway)
	err := client.Probe(context.Background())
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Errorf("502 should be unavailable, got %v", err)
	}
}

func TestTerminate(t *testing.T) {
	defer goleak.VerifyNone(t)

	var gotSession atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotSession.Store(r.Header.Get(HeaderSessionID))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, 5*time.Second)
	defer client.CloseIdleConnections()
	if err := client.Terminate(context.Background(), "bye"); err != nil {
		t.Errorf("Terminate() error: %v", err)
	}
	if gotSession.Load() != "bye" {
		t.Errorf("session header = %v, want bye", gotSession.Load())
	}

	// No session means nothing to terminate.
	if err := client.Terminate(context.Background(), ""); err != nil {
		t.Errorf("Terminate(\"\") error: %v", err)
	}
}

func TestMediaType(t *testing.T) {
	tests := map[string]string{
		"text/event-stream":               "text/event-stream",
		"application/json; charset=utf-8": "application/json",
		"Text/Event-Stream":               "text/event-stream",
		"":                                "",
	}
	for in, want := range tests {
		if got := mediaType(in); got != want {
			t.Errorf("mediaType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSessionRejected_CaseInsensitive(t *testing.T) {
	if !sessionRejected(http.StatusBadRequest, "s", []byte("Missing SESSION header")) {
		t.Error("expected session rejection")
	}
	if sessionRejected(http.StatusBadRequest, "s", []byte("invalid params")) {
		t.Error("unrelated 400 must not reject the session")
	}
}
