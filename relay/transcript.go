package relay

import (
	"slices"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/storage"
)

var outcomes = map[State]storage.Outcome{
	StateCompleted: storage.OutcomeCompleted,
	StateFailed:    storage.OutcomeFailed,
	StateCancelled: storage.OutcomeCancelled,
}

// NewTranscript builds the stored record of a finished session. It returns
// nil for an outcome that is not terminal.
func NewTranscript(req *llm.ChatRequest, out *Outcome) *storage.Transcript {
	outcome, ok := outcomes[out.State]
	if !ok {
		return nil
	}

	return &storage.Transcript{
		ID:              out.SessionID,
		Model:           out.Model,
		Messages:        slices.Clone(req.Messages),
		Response:        out.Text,
		Outcome:         outcome,
		Detail:          out.Detail,
		Streaming:       req.Streaming(),
		ChunkCount:      out.ChunkCount,
		EmittedCount:    out.EmittedCount,
		SuppressedCount: out.SuppressedCount,
		TrimmedCount:    out.TrimmedCount,
		StartedAt:       out.StartedAt,
		CompletedAt:     out.CompletedAt,
	}
}
