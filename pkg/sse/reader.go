// Package sse decodes Server-Sent Events streams into discrete frames.
//
// The reader is incremental: it pulls bytes from the underlying io.Reader as
// needed and keeps partial lines buffered across reads, so a frame may arrive
// split at any byte boundary.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

// DoneSentinel is the data payload that marks the end of a stream.
const DoneSentinel = "[DONE]"

// DefaultEvent is the event name applied when a frame has no event field.
const DefaultEvent = "message"

const (
	readerBufSize = 64 * 1024

	// maxLineSize bounds a single line. A frame may span several lines.
	maxLineSize = 4 * 1024 * 1024
)

// ErrLineTooLong is returned when a single line exceeds the maximum line size.
var ErrLineTooLong = errors.New("sse: line too long")

// Frame is one dispatched event.
type Frame struct {
	// Event is the event name, DefaultEvent when the stream did not set one.
	Event string
	// Data is the concatenation of all data lines, joined with "\n".
	Data string
	// ID is the last event id seen in the frame, if any.
	ID string
	// Retry is the raw retry field, if any.
	Retry string
}

// IsDone reports whether the frame carries the end-of-stream sentinel.
func (f Frame) IsDone() bool {
	return f.Data == DoneSentinel
}

// Reader reads frames from an event stream.
type Reader struct {
	br   *bufio.Reader
	line []byte
	done bool
}

// NewReader returns a Reader that parses frames from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, readerBufSize)}
}

// Next returns the next frame. It returns io.EOF when the stream is closed
// or after the DoneSentinel frame has been observed.
func (r *Reader) Next() (Frame, error) {
	if r.done {
		return Frame{}, io.EOF
	}

	var (
		frame   Frame
		data    strings.Builder
		hasData bool
	)

	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && hasData {
				// Stream closed without the trailing blank line.
				frame.Data = data.String()
				return r.dispatch(frame)
			}
			if errors.Is(err, io.EOF) {
				r.done = true
			}
			return Frame{}, err
		}

		if len(line) == 0 {
			if !hasData {
				// A blank line without data resets the frame.
				frame = Frame{}
				continue
			}
			frame.Data = data.String()
			return r.dispatch(frame)
		}

		if line[0] == ':' {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			frame.Event = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				frame.ID = value
			}
		case "retry":
			frame.Retry = value
		}
	}
}

func (r *Reader) dispatch(f Frame) (Frame, error) {
	if f.Event == "" {
		f.Event = DefaultEvent
	}
	if f.IsDone() {
		r.done = true
		return Frame{}, io.EOF
	}
	return f, nil
}

// readLine returns one line without its "\n" or "\r\n" terminator. A final
// unterminated line is returned before io.EOF.
func (r *Reader) readLine() ([]byte, error) {
	r.line = r.line[:0]
	for {
		chunk, err := r.br.ReadSlice('\n')
		r.line = append(r.line, chunk...)
		if len(r.line) > maxLineSize {
			return nil, fmt.Errorf("%w (%d bytes)", ErrLineTooLong, len(r.line))
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(r.line) > 0 {
				return bytes.TrimSuffix(r.line, []byte{'\r'}), nil
			}
			return nil, err
		}
		line := r.line[:len(r.line)-1]
		return bytes.TrimSuffix(line, []byte{'\r'}), nil
	}
}

// splitField splits "field: value" into its parts. A single leading space in
// the value is removed. A line without a colon is a field with an empty value.
func splitField(line []byte) (string, string) {
	idx := bytes.IndexByte(line, ':')
	if idx < 0 {
		return string(line), ""
	}
	value := line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:idx]), string(value)
}

// Frames returns a lazy sequence over the frames of r. Iteration stops at the
// end of the stream, at the DoneSentinel, or after the first read error,
// which is yielded with a zero Frame. Every call starts a fresh parse.
func Frames(r io.Reader) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		reader := NewReader(r)
		for {
			frame, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}
