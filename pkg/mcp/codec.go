package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// JSON-RPC error codes. The -320xx range is reserved for implementation
// defined server errors; the bridge uses it for gateway faults.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603

	// CodeUpstreamUnavailable means the upstream could not be reached or
	// did not answer within the configured timeout.
	CodeUpstreamUnavailable = -32001
	// CodeBadUpstreamResponse means the upstream answered with something
	// that is not a usable JSON-RPC response for the request.
	CodeBadUpstreamResponse = -32002
	// CodeSessionInvalid means the upstream rejected a freshly created
	// session as well.
	CodeSessionInvalid = -32003
)

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message struct
// with the specified direction and current timestamp.
func WrapMessage(raw []byte, dir Direction) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// NewRequest builds a request message. A nil id produces a notification.
// Integer ids are accepted in addition to the float64 and string ids the
// SDK understands.
func NewRequest(id any, method string, params any) (*Message, error) {
	switch v := id.(type) {
	case int:
		id = float64(v)
	case int64:
		id = float64(v)
	}

	req := &jsonrpc.Request{Method: method}
	if id != nil {
		rid, err := jsonrpc.MakeID(id)
		if err != nil {
			return nil, fmt.Errorf("make id: %w", err)
		}
		req.ID = rid
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	raw, err := jsonrpc.EncodeMessage(req)
	if err != nil {
		return nil, err
	}
	return &Message{
		Raw:       raw,
		Direction: ClientToServer,
		Decoded:   req,
		Timestamp: time.Now(),
	}, nil
}

// errorResponse is the wire form of a JSON-RPC error response. It is built
// by hand so that the caller's id is echoed in its original encoding and a
// null id is written explicitly.
type errorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   errorField      `json:"error"`
}

type errorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// resultResponse is the wire form of a JSON-RPC success response.
type resultResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

var nullID = json.RawMessage("null")

// EncodeError builds a JSON-RPC error response for the given raw id.
func EncodeError(id json.RawMessage, code int, message string) []byte {
	if len(id) == 0 {
		id = nullID
	}
	b, err := json.Marshal(errorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   errorField{Code: code, Message: message},
	})
	if err != nil {
		// id came from a decoded message, so it is valid JSON.
		return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":%q}}`, code, message))
	}
	return b
}

// EncodeResult builds a JSON-RPC success response for the given raw id.
func EncodeResult(id json.RawMessage, result json.RawMessage) []byte {
	if len(id) == 0 {
		id = nullID
	}
	if len(result) == 0 {
		result = json.RawMessage("{}")
	}
	b, err := json.Marshal(resultResponse{JSONRPC: "2.0", ID: id, Result: result})
	if err != nil {
		return EncodeError(id, CodeInternalError, "Internal error")
	}
	return b
}
