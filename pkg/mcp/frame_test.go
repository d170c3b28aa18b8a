package mcp

import (
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Sentinel-Gate/mcp-bridge/pkg/sse"
)

func TestDecodeFrame(t *testing.T) {
	msg, err := DecodeFrame(sse.Frame{
		Event: "message",
		Data:  `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"add"}]}}`,
	})
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if !msg.IsResponse() {
		t.Fatalf("expected response, got %T", msg.Decoded)
	}
	if msg.Direction != ServerToClient {
		t.Errorf("Direction = %v, want server->client", msg.Direction)
	}
	if string(msg.Raw) != `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"add"}]}}` {
		t.Errorf("Raw not preserved: %s", msg.Raw)
	}
}

func TestDecodeFrame_ParseError(t *testing.T) {
	_, err := DecodeFrame(sse.Frame{Event: "message", Data: "{broken"})

	var fpe *FrameParseError
	if !errors.As(err, &fpe) {
		t.Fatalf("expected *FrameParseError, got %T (%v)", err, err)
	}
	if fpe.Raw != "{broken" {
		t.Errorf("Raw = %q, want {broken", fpe.Raw)
	}
	if !strings.Contains(fpe.Error(), "{broken") {
		t.Errorf("Error() should include the raw payload, got %q", fpe.Error())
	}
}

func TestMessages_ContinuesAfterParseError(t *testing.T) {
	stream := "event: message\ndata: not-json\n\n" +
		"event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n" +
		"event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":2,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"30\"}]}}\n\n" +
		"event: message\ndata: [DONE]\n\n"

	var (
		parseErrs int
		msgs      []*Message
	)
	for msg, err := range Messages(iotest.HalfReader(strings.NewReader(stream))) {
		var fpe *FrameParseError
		if errors.As(err, &fpe) {
			parseErrs++
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		msgs = append(msgs, msg)
	}

	if parseErrs != 1 {
		t.Errorf("parse errors = %d, want 1", parseErrs)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if !msgs[0].IsNotification() {
		t.Error("first message should be the progress notification")
	}
	if string(msgs[1].RawID()) != "2" {
		t.Errorf("second message id = %s, want 2", msgs[1].RawID())
	}
}

func TestMessages_ReadErrorEndsSequence(t *testing.T) {
	boom := errors.New("reset")
	count := 0
	var last error
	for _, err := range Messages(iotest.ErrReader(boom)) {
		count++
		last = err
	}
	if count != 1 || !errors.Is(last, boom) {
		t.Errorf("got %d items, last error %v; want 1 item with %v", count, last, boom)
	}
}

func TestReadJSON(t *testing.T) {
	msg, err := ReadJSON(strings.NewReader(`{"jsonrpc":"2.0","id":9,"result":{}}`))
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if string(msg.RawID()) != "9" {
		t.Errorf("id = %s, want 9", msg.RawID())
	}

	_, err = ReadJSON(strings.NewReader(`<html>`))
	var fpe *FrameParseError
	if !errors.As(err, &fpe) {
		t.Errorf("expected *FrameParseError, got %v", err)
	}
}
