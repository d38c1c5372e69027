package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/relay/pkg/chunk"
	"github.com/papercomputeco/relay/pkg/dedup"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// SSE event names sent to the client.
const (
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// CancelledDetail is the error detail sent when a session is cancelled.
const CancelledDetail = "Request was cancelled"

// MessagePayload is the data of a message event.
type MessagePayload struct {
	Content string `json:"content"`

	// Shape is the chunk shape the content came from. It is not sent.
	Shape chunk.Shape `json:"-"`
}

// DonePayload is the data of the done event.
type DonePayload struct {
	Status string `json:"status"`
}

// ErrorPayload is the data of the error event.
type ErrorPayload struct {
	Detail string `json:"detail"`
}

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Outcome summarizes a finished session.
type Outcome struct {
	SessionID string
	Model     string
	State     State

	// Err is the cause of a failed or cancelled session.
	Err error

	// Detail is the error detail sent to the client.
	Detail string

	// Text is everything relayed in message events, in order.
	Text         string
	FinishReason string

	ChunkCount      int
	EmittedCount    int
	SuppressedCount int
	TrimmedCount    int

	StartedAt   time.Time
	CompletedAt time.Time
}

// Session relays one upstream stream to one client. A Session is single use
// and not safe for concurrent use.
type Session struct {
	ID string

	req     *llm.ChatRequest
	apiKey  string
	client  *upstream.Client
	tracker *dedup.Tracker
	pacing  time.Duration
	logger  *slog.Logger

	state   State
	text    strings.Builder
	outcome Outcome
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Run opens the upstream stream and relays it to emit until the stream ends,
// fails or ctx is cancelled. Exactly one terminal event (done or error) is
// emitted and nothing is emitted after it. The upstream connection is closed
// before Run returns.
func (s *Session) Run(ctx context.Context, emit sse.Emitter) *Outcome {
	if s.state != StateIdle {
		panic("relay: session " + s.ID + " run twice")
	}

	s.outcome = Outcome{
		SessionID: s.ID,
		Model:     s.req.Model,
		StartedAt: time.Now(),
	}
	s.state = StateStreaming
	sessionsStarted.Add(1)

	s.logger.Debug("session started", "model", s.req.Model)

	stream, err := s.client.Open(ctx, s.req, s.apiKey)
	if err != nil {
		return s.abort(ctx, emit, err)
	}
	defer stream.Close()

	for {
		c, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return s.complete(emit)
		}
		if err != nil {
			return s.abort(ctx, emit, err)
		}
		s.outcome.ChunkCount++

		f := chunk.Extract(c)
		if f.Failed() {
			return s.fail(emit, &ProviderError{Message: f.ErrorMessage})
		}

		if f.Text != "" {
			var result dedup.Result
			f, result = s.tracker.Process(f)
			switch result {
			case dedup.Suppressed:
				s.outcome.SuppressedCount++
				fragmentsSuppressed.Add(1)
			case dedup.Trimmed:
				s.outcome.TrimmedCount++
				fragmentsTrimmed.Add(1)
			}
		}

		if f.Text != "" {
			if err := emit.Emit(EventMessage, MessagePayload{Content: f.Text, Shape: f.Shape}); err != nil {
				return s.cancel(emit, fmt.Errorf("%w: %w", ErrClientCancelled, err), false)
			}
			// A full message supersedes everything relayed before it.
			if f.Shape == chunk.ShapeMessage {
				s.text.Reset()
			}
			s.text.WriteString(f.Text)
			s.outcome.EmittedCount++

			if err := s.pause(ctx); err != nil {
				return s.abort(ctx, emit, err)
			}
		}

		if f.Terminal {
			s.outcome.FinishReason = f.FinishReason
			return s.complete(emit)
		}
	}
}

// pause waits for the pacing delay unless ctx ends first.
func (s *Session) pause(ctx context.Context) error {
	if s.pacing <= 0 {
		return nil
	}

	t := time.NewTimer(s.pacing)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) complete(emit sse.Emitter) *Outcome {
	if err := emit.Emit(EventDone, DonePayload{Status: "complete"}); err != nil {
		return s.cancel(emit, fmt.Errorf("%w: %w", ErrClientCancelled, err), false)
	}
	return s.finish(StateCompleted, nil, "")
}

// abort routes an error from opening, reading or pacing. Once ctx is done the
// session is cancelled whatever the error; otherwise it failed.
func (s *Session) abort(ctx context.Context, emit sse.Emitter, err error) *Outcome {
	if ctx.Err() != nil {
		return s.cancel(emit, fmt.Errorf("%w: %w", ErrClientCancelled, err), true)
	}
	return s.fail(emit, err)
}

func (s *Session) fail(emit sse.Emitter, err error) *Outcome {
	detail := err.Error()
	if emitErr := emit.Emit(EventError, ErrorPayload{Detail: detail}); emitErr != nil {
		s.logger.Debug("could not deliver error event", "error", emitErr)
	}
	return s.finish(StateFailed, err, detail)
}

// cancel ends the session as cancelled. The error event is best effort and
// only attempted when the client may still be listening.
func (s *Session) cancel(emit sse.Emitter, err error, notify bool) *Outcome {
	if notify {
		if emitErr := emit.Emit(EventError, ErrorPayload{Detail: CancelledDetail}); emitErr != nil {
			s.logger.Debug("could not deliver cancellation event", "error", emitErr)
		}
	}
	return s.finish(StateCancelled, err, CancelledDetail)
}

func (s *Session) finish(state State, err error, detail string) *Outcome {
	s.state = state
	s.outcome.State = state
	s.outcome.Err = err
	s.outcome.Detail = detail
	s.outcome.Text = s.text.String()
	s.outcome.CompletedAt = time.Now()

	sessionsEnded.Add(state.String(), 1)

	attrs := []any{
		"state", state.String(),
		"chunks", s.outcome.ChunkCount,
		"emitted", s.outcome.EmittedCount,
		"suppressed", s.outcome.SuppressedCount,
		"trimmed", s.outcome.TrimmedCount,
		"duration", s.outcome.CompletedAt.Sub(s.outcome.StartedAt),
	}
	switch state {
	case StateFailed:
		s.logger.Error("session failed", append(attrs, "error", err)...)
	case StateCancelled:
		s.logger.Info("session cancelled", attrs...)
	default:
		s.logger.Info("session completed", attrs...)
	}

	out := s.outcome
	return &out
}
