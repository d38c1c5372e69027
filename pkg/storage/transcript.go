package storage

import (
	"errors"
	"time"

	"github.com/papercomputeco/relay/pkg/llm"
)

// Outcome is how a relay session ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}

// Transcript is the record of one relay session: what was asked, what was
// relayed back after de-duplication, and how the session ended.
type Transcript struct {
	ID       string        `json:"id"`
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`

	// Response is the concatenation of every relayed message event.
	Response string `json:"response"`

	Outcome Outcome `json:"outcome"`

	// Detail is the error detail sent to the client for failed and
	// cancelled sessions.
	Detail string `json:"detail,omitempty"`

	Streaming bool `json:"streaming"`

	// ChunkCount is the number of upstream chunks decoded.
	ChunkCount int `json:"chunk_count"`

	// EmittedCount, SuppressedCount and TrimmedCount count message
	// fragments by what de-duplication did to them.
	EmittedCount    int `json:"emitted_count"`
	SuppressedCount int `json:"suppressed_count"`
	TrimmedCount    int `json:"trimmed_count"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration is the wall time of the session.
func (t *Transcript) Duration() time.Duration {
	return t.CompletedAt.Sub(t.StartedAt)
}

// Validate checks the fields every driver relies on.
func (t *Transcript) Validate() error {
	if t == nil {
		return errors.New("cannot store nil transcript")
	}
	if t.ID == "" {
		return errors.New("transcript id is required")
	}
	if !t.Outcome.Valid() {
		return errors.New("transcript outcome is invalid: " + string(t.Outcome))
	}
	return nil
}
