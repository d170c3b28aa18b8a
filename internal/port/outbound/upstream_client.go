// Package outbound defines the outbound port interfaces for talking to the
// upstream MCP server.
package outbound

import (
	"context"
	"io"
	"net/http"
)

// Stream is the response to one upstream POST. Body is not read by the
// adapter; the caller consumes it lazily and must close it.
type Stream struct {
	// StatusCode is the HTTP status of the upstream response.
	StatusCode int
	// Header holds the upstream response headers.
	Header http.Header
	// SessionID is the Mcp-Session-Id the upstream returned, if any.
	SessionID string
	// MediaType is the parsed response content type without parameters,
	// e.g. "text/event-stream".
	MediaType string
	// Body is the response body.
	Body io.ReadCloser
}

// Close releases the response body.
func (s *Stream) Close() error {
	if s == nil || s.Body == nil {
		return nil
	}
	return s.Body.Close()
}

// IsEventStream reports whether the body is framed as Server-Sent Events.
func (s *Stream) IsEventStream() bool {
	return s.MediaType == "text/event-stream"
}

// UpstreamClient is the outbound port to the Streamable HTTP upstream.
type UpstreamClient interface {
	// Send POSTs one JSON-RPC message, attaching sessionID when non-empty.
	// Failures are *upstream.TransportError or upstream.ErrSessionInvalid.
	Send(ctx context.Context, body []byte, sessionID string) (*Stream, error)

	// Probe checks whether the upstream is reachable without a handshake.
	Probe(ctx context.Context) error

	// Terminate ends sessionID on the upstream.
	Terminate(ctx context.Context, sessionID string) error
}
