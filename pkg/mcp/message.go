// Package mcp provides MCP message types, JSON-RPC codec utilities and the
// frame decoding used by the bridge to read Streamable HTTP responses.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Well-known MCP method names the bridge treats specially.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// Direction indicates the flow direction of a message through the bridge.
type Direction int

const (
	// ClientToServer is a message sent by the caller towards the upstream.
	ClientToServer Direction = iota
	// ServerToClient is a message produced by the upstream.
	ServerToClient
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message wraps a decoded JSON-RPC message together with its raw bytes.
// The raw bytes are what the bridge hands back to callers, so upstream
// payloads reach them byte-for-byte.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Direction indicates which side produced the message.
	Direction Direction

	// Decoded is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was decoded.
	Timestamp time.Time

	// ParsedParams caches the params of a request, see ParseParams.
	ParsedParams map[string]interface{}
}

// IsRequest returns true if the message is a JSON-RPC request or notification.
func (m *Message) IsRequest() bool {
	return m.Request() != nil
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	return m.Response() != nil
}

// IsNotification returns true for a request without an id.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && !req.ID.IsValid()
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// IsInitialize returns true if this is the initialize handshake request.
func (m *Message) IsInitialize() bool {
	return m.Method() == MethodInitialize
}

// IsToolCall returns true if this is a tools/call request.
func (m *Message) IsToolCall() bool {
	return m.Method() == MethodToolsCall
}

// ID returns the message id. The zero ID is returned for notifications and
// messages that failed to decode.
func (m *Message) ID() jsonrpc.ID {
	if req := m.Request(); req != nil {
		return req.ID
	}
	if resp := m.Response(); resp != nil {
		return resp.ID
	}
	return jsonrpc.ID{}
}

// Request returns the underlying Request if this is a request message.
func (m *Message) Request() *jsonrpc.Request {
	if m == nil || m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response if this is a response message.
func (m *Message) Response() *jsonrpc.Response {
	if m == nil || m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// ResponseError returns the JSON-RPC error carried by a response, or nil.
func (m *Message) ResponseError() *jsonrpc.Error {
	resp := m.Response()
	if resp == nil || resp.Error == nil {
		return nil
	}
	if wire, ok := resp.Error.(*jsonrpc.Error); ok {
		return wire
	}
	return &jsonrpc.Error{Code: CodeInternalError, Message: resp.Error.Error()}
}

// ParseParams parses the request params and stores them in ParsedParams.
// Safe to call multiple times. Returns nil if not a request or parsing fails.
func (m *Message) ParseParams() map[string]interface{} {
	if m.ParsedParams != nil {
		return m.ParsedParams
	}

	req := m.Request()
	if req == nil || req.Params == nil {
		return nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil
	}

	m.ParsedParams = params
	return params
}

// ToolName returns params.name of a tools/call request, or "".
func (m *Message) ToolName() string {
	if !m.IsToolCall() {
		return ""
	}
	name, _ := m.ParseParams()["name"].(string)
	return name
}

// RawID extracts the id from the raw message bytes, preserving its original
// encoding (number, string or null). Returns nil if the message has no id.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
