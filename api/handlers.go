package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/relay/pkg/storage"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 500

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TranscriptSummary describes a transcript without its message content.
type TranscriptSummary struct {
	ID              string          `json:"id"`
	Model           string          `json:"model"`
	Outcome         storage.Outcome `json:"outcome"`
	Detail          string          `json:"detail,omitempty"`
	Streaming       bool            `json:"streaming"`
	MessageCount    int             `json:"message_count"`
	ResponseChars   int             `json:"response_chars"`
	ChunkCount      int             `json:"chunk_count"`
	EmittedCount    int             `json:"emitted_count"`
	SuppressedCount int             `json:"suppressed_count"`
	TrimmedCount    int             `json:"trimmed_count"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMs      int64           `json:"duration_ms"`
}

// ListResponse is the body of GET /v1/transcripts.
type ListResponse struct {
	Count       int                 `json:"count"`
	Transcripts []TranscriptSummary `json:"transcripts"`
}

func summarize(t *storage.Transcript) TranscriptSummary {
	return TranscriptSummary{
		ID:              t.ID,
		Model:           t.Model,
		Outcome:         t.Outcome,
		Detail:          t.Detail,
		Streaming:       t.Streaming,
		MessageCount:    len(t.Messages),
		ResponseChars:   len([]rune(t.Response)),
		ChunkCount:      t.ChunkCount,
		EmittedCount:    t.EmittedCount,
		SuppressedCount: t.SuppressedCount,
		TrimmedCount:    t.TrimmedCount,
		StartedAt:       t.StartedAt,
		DurationMs:      t.Duration().Milliseconds(),
	}
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleListTranscripts returns the newest transcripts, optionally filtered
// by outcome.
func (s *Server) handleListTranscripts(c *fiber.Ctx) error {
	opts, err := listOptions(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Detail: err.Error()})
	}

	transcripts, err := s.storer.List(c.Context(), opts)
	if err != nil {
		s.logger.Error("failed to list transcripts", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Detail: "failed to list transcripts"})
	}

	summaries := make([]TranscriptSummary, 0, len(transcripts))
	for _, t := range transcripts {
		summaries = append(summaries, summarize(t))
	}

	return c.JSON(ListResponse{
		Count:       len(summaries),
		Transcripts: summaries,
	})
}

// handleGetTranscript returns one transcript with its messages and response.
func (s *Server) handleGetTranscript(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Detail: "id parameter required"})
	}

	t, err := s.storer.Get(c.Context(), id)
	if err != nil {
		var notFound storage.NotFoundError
		if errors.As(err, &notFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Detail: "transcript not found"})
		}
		s.logger.Error("failed to get transcript", "id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Detail: "failed to get transcript"})
	}

	return c.JSON(t)
}

func listOptions(c *fiber.Ctx) (storage.ListOptions, error) {
	var opts storage.ListOptions

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return opts, errors.New("limit must be a positive integer")
		}
		opts.Limit = min(limit, MaxListLimit)
	}

	if raw := c.Query("outcome"); raw != "" {
		outcome := storage.Outcome(raw)
		if !outcome.Valid() {
			return opts, errors.New("outcome must be one of completed, failed or cancelled")
		}
		opts.Outcome = outcome
	}

	return opts, nil
}
