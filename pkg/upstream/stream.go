package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/relay/pkg/chunk"
	"github.com/papercomputeco/relay/pkg/sse"
)

var errIdleTimeout = errors.New("no data within the read timeout")

// Stream is an open upstream response. It is not safe for concurrent use.
type Stream struct {
	body        io.ReadCloser
	lines       *sse.LineReader
	cancel      context.CancelFunc
	readTimeout time.Duration
	idle        *time.Timer
	timedOut    atomic.Bool
	logger      *slog.Logger

	closeOnce sync.Once
	finished  bool
}

func newStream(resp *http.Response, cancel context.CancelFunc, readTimeout time.Duration, log *slog.Logger) *Stream {
	s := &Stream{
		body:        resp.Body,
		lines:       sse.NewLineReader(resp.Body),
		cancel:      cancel,
		readTimeout: readTimeout,
		logger:      log,
	}

	// Cancelling the request context unblocks a pending body read.
	s.idle = time.AfterFunc(readTimeout, func() {
		s.timedOut.Store(true)
		cancel()
	})
	s.idle.Stop()

	return s
}

// Next returns the next decoded chunk. It returns io.EOF when the provider
// sends [DONE] or closes the connection. Lines that are not valid JSON or
// exceed sse.MaxLineSize are logged and skipped.
//
// A line that completes just as the idle timer fires is still returned, but
// the timer has already torn down the connection, so the following call
// reports the timeout without reading again.
func (s *Stream) Next(ctx context.Context) (chunk.Chunk, error) {
	if s.finished {
		return chunk.Chunk{}, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return chunk.Chunk{}, err
		}
		if s.timedOut.Load() {
			s.finished = true
			return chunk.Chunk{}, &TransportError{Op: "read", Timeout: true, Err: errIdleTimeout}
		}

		s.idle.Reset(s.readTimeout)
		line, err := s.lines.Next()
		s.idle.Stop()

		if err != nil {
			if errors.Is(err, io.EOF) && !s.timedOut.Load() {
				s.finished = true
				return chunk.Chunk{}, io.EOF
			}
			return chunk.Chunk{}, s.readError(ctx, err)
		}

		if line.Oversized {
			s.logger.Warn("skipping oversized upstream line", "limit", sse.MaxLineSize)
			continue
		}

		if line.Done {
			s.finished = true
			return chunk.Chunk{}, io.EOF
		}

		c, err := chunk.Decode([]byte(line.Data))
		if err != nil {
			s.logger.Warn("skipping malformed upstream chunk",
				"error", err,
				"data", preview(line.Data),
			)
			continue
		}

		return c, nil
	}
}

func (s *Stream) readError(ctx context.Context, err error) error {
	if s.timedOut.Load() {
		return &TransportError{Op: "read", Timeout: true, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &TransportError{Op: "read", Timeout: isTimeout(err), Err: err}
}

// Close releases the connection. It is safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.idle.Stop()
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func preview(s string) string {
	const limit = 120
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
