package mcp

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/Sentinel-Gate/mcp-bridge/pkg/sse"
)

// maxJSONBodySize bounds plain application/json upstream bodies.
const maxJSONBodySize = 10 * 1024 * 1024

// FrameParseError reports a frame whose data is not a JSON-RPC message.
// Raw holds the offending payload.
type FrameParseError struct {
	Event string
	Raw   string
	Err   error
}

func (e *FrameParseError) Error() string {
	raw := e.Raw
	if len(raw) > 128 {
		raw = raw[:128] + "..."
	}
	return fmt.Sprintf("parse %s frame %q: %v", e.Event, raw, e.Err)
}

func (e *FrameParseError) Unwrap() error {
	return e.Err
}

// DecodeFrame decodes the data of one frame into a server-to-client Message.
func DecodeFrame(f sse.Frame) (*Message, error) {
	if f.Data == "" {
		return nil, &FrameParseError{Event: f.Event, Raw: f.Data, Err: errors.New("empty data")}
	}
	raw := []byte(f.Data)
	msg, err := WrapMessage(raw, ServerToClient)
	if err != nil {
		return nil, &FrameParseError{Event: f.Event, Raw: f.Data, Err: err}
	}
	return msg, nil
}

// Messages returns a lazy sequence of JSON-RPC messages carried by an event
// stream. A frame that does not decode is yielded as a *FrameParseError and
// iteration continues with the next frame. Stream read errors end the
// sequence after being yielded.
func Messages(r io.Reader) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for frame, err := range sse.Frames(r) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(DecodeFrame(frame)) {
				return
			}
		}
	}
}

// ReadJSON decodes a plain application/json body holding a single message.
func ReadJSON(r io.Reader) (*Message, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxJSONBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	msg, err := WrapMessage(raw, ServerToClient)
	if err != nil {
		return nil, &FrameParseError{Event: "json", Raw: string(raw), Err: err}
	}
	return msg, nil
}
