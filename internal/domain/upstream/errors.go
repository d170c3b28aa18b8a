package upstream

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for upstream interactions.
var (
	// ErrUnavailable marks every failure that means "the upstream is down":
	// dial errors, timeouts, non-2xx statuses and failed handshakes.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrBadResponse marks a reachable upstream whose answer could not be
	// turned into a JSON-RPC response for the request.
	ErrBadResponse = errors.New("bad upstream response")

	// ErrSessionInvalid is returned when the upstream rejects the supplied
	// session id as unknown or expired.
	ErrSessionInvalid = errors.New("upstream session invalid")
)

// TransportError is a network-level failure reaching the upstream.
// It matches ErrUnavailable with errors.Is.
type TransportError struct {
	// Op names the failing operation ("post", "probe", "handshake", ...).
	Op string
	// StatusCode is the HTTP status when the upstream answered with a
	// non-success status, 0 for connection level failures.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ProtocolError is a response from a reachable upstream that does not have
// the expected shape. It matches ErrBadResponse with errors.Is.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad upstream response: %s: %v", e.Reason, e.Err)
	}
	return "bad upstream response: " + e.Reason
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBadResponse}
	}
	return []error{ErrBadResponse, e.Err}
}

// Kind classifies err into one of the taxonomy labels used by logs and
// metrics: "session_invalid", "transport", "protocol" or "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, ErrUnavailable):
		return "transport"
	case errors.Is(err, ErrBadResponse):
		return "protocol"
	default:
		return "internal"
	}
}
