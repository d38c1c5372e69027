// Package worker provides an asynchronous worker pool that persists finished
// relay sessions using the provided storage.Driver and announces them on the
// provided eventstream.Publisher.
//
// The pool decouples storage and publishing from the relay's HTTP hot path so
// that a slow database or broker never delays a client's stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 10 * time.Second
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Transcript *storage.Transcript
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Driver is the storage backend for persisting transcripts.
	Driver storage.Driver

	// Publisher is the optional event publisher. Events are only published
	// for transcripts that were newly stored.
	Publisher eventstream.Publisher

	// Source identifies this relay in published events.
	Source eventstream.EventSource

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds storage and publishing for a single job.
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool processes persistence jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Driver == nil {
		return nil, errors.New("worker pool requires a storage driver")
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	if job.Transcript == nil {
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"transcript_id", job.Transcript.ID,
			"model", job.Transcript.Model,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"transcript_id", job.Transcript.ID,
			"model", job.Transcript.Model,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the relay HTTP server has stopped.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

// processJob stores the transcript and, if it was new, publishes a
// session-ended event.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.JobTimeout)
	defer cancel()

	t := job.Transcript
	created, err := p.config.Driver.Put(ctx, t)
	if err != nil {
		p.logger.Error("transcript storage failed",
			"transcript_id", t.ID,
			"error", err,
		)
		return
	}
	if !created {
		p.logger.Debug("transcript already stored", "transcript_id", t.ID)
		return
	}

	p.logger.Info("transcript stored",
		"transcript_id", t.ID,
		"outcome", string(t.Outcome),
	)

	if p.config.Publisher == nil {
		return
	}

	event := eventstream.NewSessionEndedEvent(t, p.config.Source, time.Now())
	if err := p.config.Publisher.PublishSessionEnded(ctx, event); err != nil {
		p.logger.Warn("session event publish failed",
			"transcript_id", t.ID,
			"event_id", event.EventID,
			"error", err,
		)
	}
}
