// Package eventstream defines the transport-neutral events the relay publishes
// after a session's transcript has been persisted.
package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeSessionEnded is emitted after a relay session's transcript is persisted.
	EventTypeSessionEnded = "relay.session.ended"
)

// SessionEndedEvent is a transport-neutral event payload for a finished session.
type SessionEndedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Session       SessionMeta `json:"session"`
}

// EventSource identifies where the session ran.
type EventSource struct {
	Service  string `json:"service"`
	Upstream string `json:"upstream,omitempty"`
}

// SessionMeta summarizes the session without its message content.
type SessionMeta struct {
	TranscriptID    string          `json:"transcript_id"`
	Model           string          `json:"model"`
	Outcome         storage.Outcome `json:"outcome"`
	Detail          string          `json:"detail,omitempty"`
	Streaming       bool            `json:"streaming"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     time.Time       `json:"completed_at"`
	DurationMs      int64           `json:"duration_ms"`
	ChunkCount      int             `json:"chunk_count"`
	EmittedCount    int             `json:"emitted_count"`
	SuppressedCount int             `json:"suppressed_count"`
	TrimmedCount    int             `json:"trimmed_count"`
	ResponseChars   int             `json:"response_chars"`
}

// NewSessionEndedEvent builds the event for a persisted transcript.
func NewSessionEndedEvent(t *storage.Transcript, source EventSource, now time.Time) *SessionEndedEvent {
	return &SessionEndedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeSessionEnded,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     now.UTC(),
		Source:        source,
		Session: SessionMeta{
			TranscriptID:    t.ID,
			Model:           t.Model,
			Outcome:         t.Outcome,
			Detail:          t.Detail,
			Streaming:       t.Streaming,
			StartedAt:       t.StartedAt,
			CompletedAt:     t.CompletedAt,
			DurationMs:      t.Duration().Milliseconds(),
			ChunkCount:      t.ChunkCount,
			EmittedCount:    t.EmittedCount,
			SuppressedCount: t.SuppressedCount,
			TrimmedCount:    t.TrimmedCount,
			ResponseChars:   len([]rune(t.Response)),
		},
	}
}
