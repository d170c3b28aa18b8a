// Package mcp provides the Streamable HTTP adapter used to reach the
// upstream MCP server.
package mcp

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/mcp-bridge/internal/ctxkey"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
	"github.com/Sentinel-Gate/mcp-bridge/internal/port/outbound"
)

// Header names of the Streamable HTTP transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"

	headerRequestID = "X-Request-ID"
)

const (
	// acceptHeader advertises both response framings the transport allows.
	acceptHeader = "application/json, text/event-stream"

	// maxErrorBodySize bounds how much of a failed response is read to
	// classify it.
	maxErrorBodySize = 4 * 1024

	// DefaultTimeout is the per-request upstream timeout.
	DefaultTimeout = 120 * time.Second

	tracerName = "github.com/Sentinel-Gate/mcp-bridge/internal/adapter/outbound/mcp"
)

// StreamableHTTPClient sends JSON-RPC messages to an upstream speaking the
// Streamable HTTP transport. It keeps no session state of its own; callers
// pass the session id with each request. Safe for concurrent use.
type StreamableHTTPClient struct {
	target          upstream.Target
	httpClient      *http.Client
	protocolVersion string
	tracer          trace.Tracer
}

// ClientOption is a functional option for configuring StreamableHTTPClient.
type ClientOption func(*StreamableHTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *StreamableHTTPClient) {
		c.httpClient = client
	}
}

// WithProtocolVersion sets the MCP-Protocol-Version sent on session requests.
func WithProtocolVersion(v string) ClientOption {
	return func(c *StreamableHTTPClient) {
		c.protocolVersion = v
	}
}

// WithTracerProvider sets the tracer provider used for upstream spans.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(c *StreamableHTTPClient) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewStreamableHTTPClient creates a client for target.
func NewStreamableHTTPClient(target upstream.Target, opts ...ClientOption) *StreamableHTTPClient {
	if target.Timeout <= 0 {
		target.Timeout = DefaultTimeout
	}
	c := &StreamableHTTPClient{
		target: target,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send POSTs body to the upstream MCP endpoint. On success the returned
// stream's body is unread and bounded by the request timeout; the caller must
// close it. The timeout context is released when the body is closed.
func (c *StreamableHTTPClient) Send(ctx context.Context, body []byte, sessionID string) (*outbound.Stream, error) {
	ctx, span := c.tracer.Start(ctx, "upstream.send", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", http.MethodPost),
		attribute.String("url.full", c.target.EndpointURL()),
		attribute.Bool("mcp.session.attached", sessionID != ""),
	)

	ctx, cancel := context.WithTimeout(ctx, c.target.Timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.target.EndpointURL(), bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, c.fail(span, &upstream.TransportError{Op: "post", Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok && id != "" {
		req.Header.Set(headerRequestID, id)
	}
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
		if c.protocolVersion != "" {
			req.Header.Set(HeaderProtocolVersion, c.protocolVersion)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, c.fail(span, &upstream.TransportError{Op: "post", Err: err})
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer func() { _ = resp.Body.Close() }()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if sessionRejected(resp.StatusCode, sessionID, snippet) {
			return nil, c.fail(span, fmt.Errorf("upstream post: http status %d: %w", resp.StatusCode, upstream.ErrSessionInvalid))
		}
		return nil, c.fail(span, &upstream.TransportError{Op: "post", StatusCode: resp.StatusCode})
	}

	return &outbound.Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		SessionID:  resp.Header.Get(HeaderSessionID),
		MediaType:  mediaType(resp.Header.Get("Content-Type")),
		Body:       &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
	}, nil
}

// Probe issues a GET against the probe path. Any answer below 500 counts as
// reachable; it does not create a session.
func (c *StreamableHTTPClient) Probe(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "upstream.probe", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.target.ProbeURL(), nil)
	if err != nil {
		return c.fail(span, &upstream.TransportError{Op: "probe", Err: err})
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(span, &upstream.TransportError{Op: "probe", Err: err})
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		return c.fail(span, &upstream.TransportError{Op: "probe", StatusCode: resp.StatusCode})
	}
	return nil
}

// Terminate sends DELETE with the session header so the upstream can drop
// the session. Upstreams that do not support termination answer 405, which
// is not an error.
func (c *StreamableHTTPClient) Terminate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	ctx, span := c.tracer.Start(ctx, "upstream.terminate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.target.EndpointURL(), nil)
	if err != nil {
		return c.fail(span, &upstream.TransportError{Op: "terminate", Err: err})
	}
	req.Header.Set(HeaderSessionID, sessionID)
	if c.protocolVersion != "" {
		req.Header.Set(HeaderProtocolVersion, c.protocolVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(span, &upstream.TransportError{Op: "terminate", Err: err})
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode < 300, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusMethodNotAllowed:
		return nil
	default:
		return c.fail(span, &upstream.TransportError{Op: "terminate", StatusCode: resp.StatusCode})
	}
}

// CloseIdleConnections closes pooled connections that are not in use.
func (c *StreamableHTTPClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *StreamableHTTPClient) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, upstream.Kind(err))
	return err
}

// sessionRejected reports whether a failed response means the session id
// was not accepted. Servers answer 404 for unknown sessions; some answer 400
// with a message naming the session instead.
func sessionRejected(status int, sessionID string, body []byte) bool {
	if sessionID == "" {
		return false
	}
	switch status {
	case http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(string(body)), "session")
	default:
		return false
	}
}

// mediaType returns "type/subtype" of a Content-Type header value, or ""
// when it does not parse.
func mediaType(header string) string {
	mt := contenttype.NewMediaType(header)
	if mt.Type == "" {
		return ""
	}
	return strings.ToLower(mt.Type + "/" + mt.Subtype)
}

// cancelOnClose releases the request context together with the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Compile-time check that StreamableHTTPClient implements UpstreamClient.
var _ outbound.UpstreamClient = (*StreamableHTTPClient)(nil)
