package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EventError names error events on the wire.
const EventError = "error"

// Event is one server-sent event. An empty Name is a default data event.
type Event struct {
	Name string
	Data []byte
}

// errorPayload is the body of an error event.
type errorPayload struct {
	Error      string `json:"error"`
	StatusCode int    `json:"status_code"`
}

// DataEvent encodes payload as a data event.
func DataEvent(payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encoding event payload: %w", err)
	}
	return Event{Data: data}, nil
}

// ErrorEvent builds an error event carrying a message and an HTTP-like status.
func ErrorEvent(status int, message string) Event {
	data, _ := json.Marshal(errorPayload{Error: message, StatusCode: status})
	return Event{Name: EventError, Data: data}
}

// IsError reports whether e is an error event.
func (e Event) IsError() bool {
	return e.Name == EventError
}

// Encode renders the event in text/event-stream framing.
func (e Event) Encode() []byte {
	var buf bytes.Buffer
	if e.Name != "" {
		buf.WriteString("event: ")
		buf.WriteString(e.Name)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(e.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// WriteTo writes the encoded event to w.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(e.Encode())
	return int64(n), err
}
