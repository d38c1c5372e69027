// Package chunk decodes provider stream chunks and normalizes them into
// Fragments.
//
// A provider may carry text in two shapes: an incremental delta
// (choices[0].delta.content) or a full message (choices[0].message.content).
// The shape is resolved once here and recorded on the Fragment, so nothing
// downstream inspects raw chunk fields.
package chunk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Chunk is one JSON object decoded from a provider stream.
type Chunk struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices,omitempty"`

	// Error is set when the provider reports a failure inside the stream,
	// either as an object with a message or as a bare string.
	Error json.RawMessage `json:"error,omitempty"`
}

// Choice is a single entry of a chunk's choices array.
type Choice struct {
	Index        int      `json:"index"`
	Delta        *Content `json:"delta,omitempty"`
	Message      *Content `json:"message,omitempty"`
	FinishReason *string  `json:"finish_reason,omitempty"`
}

// Content is the role/content pair shared by the delta and message shapes.
type Content struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// ProviderError is the error object providers embed in a stream or an error body.
type ProviderError struct {
	Message  string         `json:"message"`
	Code     any            `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ErrorMessage resolves the in-stream error, if any. It reports false when
// the chunk carries no error.
func (c Chunk) ErrorMessage() (string, bool) {
	raw := bytes.TrimSpace(c.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	var pe ProviderError
	var plain string
	switch {
	case json.Unmarshal(raw, &pe) == nil:
		return strings.TrimSpace(pe.Message), true
	case json.Unmarshal(raw, &plain) == nil:
		return strings.TrimSpace(plain), true
	default:
		return strings.TrimSpace(string(raw)), true
	}
}

// Decode parses a single data payload.
func Decode(data []byte) (Chunk, error) {
	var c Chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return Chunk{}, fmt.Errorf("decoding chunk: %w", err)
	}
	return c, nil
}
