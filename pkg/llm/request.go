// Package llm holds the provider-agnostic chat types passed between the relay's
// HTTP surface, the upstream client and the persistence layer.
package llm

import (
	"errors"
	"fmt"
)

// Defaults applied to fields a client leaves unset.
const (
	DefaultModel       = "openai/gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// ChatRequest is an inbound chat completion request.
type ChatRequest struct {
	// Model identifier understood by the upstream provider (e.g. "openai/gpt-4o")
	Model string `json:"model"`

	// Conversation messages, oldest first
	Messages []Message `json:"messages"`

	// Whether the client wants an SSE stream. Nil means true.
	Stream *bool `json:"stream,omitempty"`

	// Sampling parameters
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ApplyDefaults fills unset fields.
func (r *ChatRequest) ApplyDefaults() {
	if r.Model == "" {
		r.Model = DefaultModel
	}
	if r.Stream == nil {
		stream := true
		r.Stream = &stream
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.MaxTokens == nil {
		n := DefaultMaxTokens
		r.MaxTokens = &n
	}
}

// Streaming reports whether the client asked for an SSE response.
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Validate checks that the request carries at least one message and that all
// roles are known.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
