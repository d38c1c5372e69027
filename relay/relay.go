// Package relay provides a streaming chat completion relay: each request opens
// a stream to an OpenRouter-compatible upstream, de-duplicates the fragments
// it sends back and re-emits them to the client as named SSE events.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/storage"
	"github.com/papercomputeco/relay/pkg/upstream"
	"github.com/papercomputeco/relay/relay/header"
	"github.com/papercomputeco/relay/relay/quota"
	"github.com/papercomputeco/relay/relay/worker"
)

const (
	defaultService  = "relay"
	shutdownTimeout = 10 * time.Second
)

// Relay is the client-facing HTTP server. Every chat request gets its own
// Session; finished sessions are handed to the worker pool for persistence.
type Relay struct {
	config        Config
	factory       *SessionFactory
	workerPool    *worker.Pool
	quota         *quota.Limiter
	logger        *slog.Logger
	server        *fiber.App
	headerHandler *header.Handler

	// ctx is the parent of every session and is cancelled on Close.
	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// New creates a new Relay. driver receives every finished session's
// transcript; publisher, when non-nil, announces each stored transcript.
func New(config Config, driver storage.Driver, publisher eventstream.Publisher, log *slog.Logger) (*Relay, error) {
	if log == nil {
		log = logger.Nop()
	}
	if config.Service == "" {
		config.Service = defaultService
	}

	opts := config.Upstream
	opts.Logger = log
	client := upstream.NewClient(opts)

	factory, err := NewSessionFactory(FactoryConfig{
		Client: client,
		APIKey: config.APIKey,
		Pacing: config.Pacing,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create session factory: %w", err)
	}

	wp, err := worker.NewPool(&worker.Config{
		Driver:     driver,
		Publisher:  publisher,
		Source:     eventstream.EventSource{Service: config.Service, Upstream: client.URL()},
		NumWorkers: config.NumWorkers,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		config:        config,
		factory:       factory,
		workerPool:    wp,
		quota:         quota.NewLimiter(config.GuestQuota),
		logger:        log,
		server:        app,
		headerHandler: header.NewHandler(),
		ctx:           ctx,
		cancel:        cancel,
	}

	app.Post("/v1/chat/completions", r.handleChat)
	app.Post("/api/chat/completions", r.handleChat)
	app.Get("/ping", r.handlePing)
	app.Get("/debug/vars", adaptor.HTTPHandler(expvar.Handler()))

	return r, nil
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logStart(r.config.ListenAddr)
	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logStart(listener.Addr().String())
	return r.server.Listener(listener)
}

func (r *Relay) logStart(listen string) {
	r.logger.Info("starting relay server",
		"listen", listen,
		"upstream", r.config.Upstream.URL,
		"configured_key", r.factory.HasCredential(),
		"guest_quota", r.config.GuestQuota,
	)
	if !r.factory.HasCredential() {
		r.logger.Warn("no upstream API key configured, callers must send their own bearer key")
	}
}

// SetPacing changes the pacing delay for sessions started afterwards.
func (r *Relay) SetPacing(d time.Duration) {
	r.factory.SetPacing(d)
	r.logger.Info("pacing updated", "pacing", d)
}

// Close cancels running sessions, stops the server and waits for the worker
// pool to drain.
func (r *Relay) Close() error {
	r.cancel()
	err := r.server.ShutdownWithTimeout(shutdownTimeout)
	r.sessions.Wait()
	r.workerPool.Close()
	return err
}

func (r *Relay) handlePing(c *fiber.Ctx) error {
	return c.SendString("pong")
}

// handleChat validates the request, resolves the credential and relays the
// upstream stream either as SSE or as one chat.completion object.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	var req llm.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return sendDetail(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}

	callerKey := r.headerHandler.BearerToken(c)
	sess, err := r.factory.New(&req, callerKey)
	switch {
	case errors.Is(err, ErrMissingCredential):
		r.logger.Error("no upstream credential available")
		return sendDetail(c, fiber.StatusInternalServerError, err.Error())
	case err != nil:
		return sendDetail(c, fiber.StatusBadRequest, err.Error())
	}

	if callerKey == "" && r.quota.Enabled() {
		if !r.quota.Allow(c.IP()) {
			guestRejected.Add(1)
			r.logger.Warn("guest quota exceeded", "client", c.IP())
			r.headerHandler.SetGuestRemaining(c, 0)
			return sendDetail(c, fiber.StatusTooManyRequests, "guest quota exceeded")
		}
		r.headerHandler.SetGuestRemaining(c, r.quota.Remaining(c.IP()))
	}

	r.logger.Debug("chat request",
		"session_id", sess.ID,
		"model", req.Model,
		"message_count", len(req.Messages),
		"streaming", req.Streaming(),
	)

	if !req.Streaming() {
		return r.handleCompletion(c, &req, sess)
	}
	return r.handleStream(c, &req, sess)
}

// handleStream runs the session in its own goroutine, writing events into an
// io.Pipe whose reader is the response body stream. fasthttp flushes each
// chunk it reads from the pipe, and closes the reader when the client goes
// away, which fails the session's next write.
func (r *Relay) handleStream(c *fiber.Ctx, req *llm.ChatRequest, sess *Session) error {
	r.headerHandler.SetStreamHeaders(c, sess.ID)

	pr, pw := io.Pipe()

	r.sessions.Add(1)
	go func() {
		defer r.sessions.Done()
		defer pw.Close()

		out := sess.Run(r.ctx, sse.NewWriterEmitter(pw))
		r.enqueue(req, out)
	}()

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (r *Relay) handleCompletion(c *fiber.Ctx, req *llm.ChatRequest, sess *Session) error {
	r.headerHandler.SetSessionID(c, sess.ID)

	r.sessions.Add(1)
	defer r.sessions.Done()

	collector := &Collector{}
	out := sess.Run(r.ctx, collector)
	r.enqueue(req, out)

	if out.State != StateCompleted {
		return sendDetail(c, StatusCode(out.Err), out.Detail)
	}
	return c.JSON(llm.NewChatCompletion(out.Model, collector.Text(), out.FinishReason, out.StartedAt))
}

func (r *Relay) enqueue(req *llm.ChatRequest, out *Outcome) {
	if t := NewTranscript(req, out); t != nil {
		r.workerPool.Enqueue(worker.Job{Transcript: t})
	}
}

func sendDetail(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{"detail": detail})
}
