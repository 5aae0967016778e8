package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SetSSEHeaders prepares a response for server-sent events. The
// X-Accel-Buffering header stops reverse proxies from buffering the
// stream.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// WriteEvent writes one named event frame. Thinking events carry an
// empty object so every frame has a data line.
func WriteEvent(w io.Writer, event string, payload any) error {
	if payload == nil {
		payload = struct{}{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}
