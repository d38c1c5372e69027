package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Emitter sends named events with JSON payloads to a client.
type Emitter interface {
	Emit(name string, payload any) error
}

type flusher interface {
	Flush() error
}

// WriteEvent writes one event in SSE wire format:
//
//	event: <name>
//	data: <json payload>
//	<blank line>
func WriteEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", name, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(name) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	// A single Write keeps an event atomic on pipes.
	_, err = w.Write(buf.Bytes())
	return err
}

// WriterEmitter is an Emitter backed by an io.Writer. When the writer can be
// flushed it is flushed after every event.
type WriterEmitter struct {
	w io.Writer
}

// NewWriterEmitter returns an Emitter writing to w.
func NewWriterEmitter(w io.Writer) *WriterEmitter {
	return &WriterEmitter{w: w}
}

// Emit writes the event and flushes.
func (e *WriterEmitter) Emit(name string, payload any) error {
	if err := WriteEvent(e.w, name, payload); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
