package relay

import (
	"strings"

	"github.com/papercomputeco/relay/pkg/chunk"
)

// Collector is an sse.Emitter that gathers a session's events in memory.
// It backs non-streaming responses.
type Collector struct {
	text     strings.Builder
	terminal string
	detail   string
}

// Emit records one event. It never fails.
func (c *Collector) Emit(name string, payload any) error {
	switch p := payload.(type) {
	case MessagePayload:
		if p.Shape == chunk.ShapeMessage {
			c.text.Reset()
		}
		c.text.WriteString(p.Content)
	case ErrorPayload:
		c.detail = p.Detail
	}
	if name == EventDone || name == EventError {
		c.terminal = name
	}
	return nil
}

// Text is the concatenated content of the message events since the last
// full message.
func (c *Collector) Text() string {
	return c.text.String()
}

// Terminal is the name of the terminal event, or "" if none was emitted.
func (c *Collector) Terminal() string {
	return c.terminal
}

// Detail is the detail of the error event, if any.
func (c *Collector) Detail() string {
	return c.detail
}
