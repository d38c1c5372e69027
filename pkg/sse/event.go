// Package sse implements the Server-Sent Events framing used on both legs of
// the relay:
//
//	upstream provider --(data: lines)--> LineReader
//	relay --(WriteEvent / Emitter)--> client
//	client --(EventReader)--> parsed Event
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line.
type Event struct {
	// Type is the value of the "event:" field. Empty means "message".
	Type string

	// Data is the concatenation of all "data:" lines, joined with "\n".
	Data string

	// ID is the value of the "id:" field, if present.
	ID string
}

// Name returns the event type, defaulting to "message".
func (e *Event) Name() string {
	if e.Type == "" {
		return "message"
	}
	return e.Type
}
