package wire

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is one decoded event.
type Frame struct {
	Event string
	Data  json.RawMessage
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// Decoder reads event frames incrementally from a stream. It accepts
// the subset of the server-sent-events grammar this protocol uses:
// an event line, one or more data lines, a blank-line terminator, and
// comment lines for keepalives.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a stream, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Tool arguments can be large; give frames generous headroom.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next complete frame. It returns io.EOF at the end
// of the stream; a frame left unterminated by a dropped connection is
// discarded.
func (d *Decoder) Next() (Frame, error) {
	var frame Frame
	var data []string
	started := false

	for d.scanner.Scan() {
		line := d.scanner.Text()

		switch {
		case line == "":
			if started {
				frame.Data = json.RawMessage(strings.Join(data, "\n"))
				return frame, nil
			}
			// Leading blank lines between frames.
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			started = true
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			started = true
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
