package sse

import (
	"bufio"
	"io"
	"strings"
)

// EventReader parses complete SSE events from a source io.Reader. The chat
// command uses it to consume the relay's outbound stream.
type EventReader struct {
	scanner *bufio.Scanner

	// current accumulates fields for the event being built.
	current *Event
	hasData bool
}

// NewEventReader returns an EventReader over src.
func NewEventReader(src io.Reader) *EventReader {
	return &EventReader{
		scanner: newScanner(src),
		current: &Event{},
	}
}

// Next blocks until a complete event is available and returns it.
// Next returns nil, nil when the source is exhausted.
func (r *EventReader) Next() (*Event, error) {
	for r.scanner.Scan() {
		raw := strings.TrimSuffix(r.scanner.Text(), "\r")

		if raw == "" {
			if r.hasData {
				ev := r.current
				r.reset()
				return ev, nil
			}
			continue
		}

		// comment / keep-alive
		if strings.HasPrefix(raw, ":") {
			continue
		}

		r.parseLine(raw)
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	// The stream ended without a trailing blank line.
	if r.hasData {
		ev := r.current
		r.reset()
		return ev, nil
	}

	return nil, nil
}

func (r *EventReader) parseLine(line string) {
	field, value := splitField(line)

	switch field {
	case "data":
		if r.hasData && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
		r.hasData = true
	case "event":
		r.current.Type = value
		r.hasData = true
	case "id":
		r.current.ID = value
		r.hasData = true
	default:
		// retry and unknown fields are ignored
	}
}

func (r *EventReader) reset() {
	r.current = &Event{}
	r.hasData = false
}

// splitField splits "field:value", stripping one optional space after the
// colon. A line with no colon is a field name with an empty value.
func splitField(line string) (string, string) {
	field, value, ok := strings.Cut(line, ":")
	if !ok {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}

func newScanner(src io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return scanner
}
