package relay

import (
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/relay/pkg/dedup"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/upstream"
)

// DefaultPacing is the delay after each relayed message event.
const DefaultPacing = 10 * time.Millisecond

// FactoryConfig configures a SessionFactory.
type FactoryConfig struct {
	// Client opens upstream streams.
	Client *upstream.Client

	// APIKey is used when the caller brings no credential of its own.
	APIKey string

	// Pacing is the initial delay after each message event. Negative
	// values disable pacing.
	Pacing time.Duration

	Logger *slog.Logger
}

// SessionFactory builds sessions that share an upstream client and settings.
// It is safe for concurrent use.
type SessionFactory struct {
	client *upstream.Client
	apiKey string
	pacing atomic.Int64
	logger *slog.Logger
}

// NewSessionFactory returns a SessionFactory for c.
func NewSessionFactory(c FactoryConfig) (*SessionFactory, error) {
	if c.Client == nil {
		return nil, errors.New("session factory requires an upstream client")
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	f := &SessionFactory{
		client: c.Client,
		apiKey: strings.TrimSpace(c.APIKey),
		logger: c.Logger,
	}
	f.SetPacing(c.Pacing)
	return f, nil
}

// HasCredential reports whether a configured API key is available.
func (f *SessionFactory) HasCredential() bool {
	return f.apiKey != ""
}

// SetPacing changes the delay used by sessions created afterwards.
func (f *SessionFactory) SetPacing(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.pacing.Store(int64(d))
}

// Pacing returns the current pacing delay.
func (f *SessionFactory) Pacing() time.Duration {
	return time.Duration(f.pacing.Load())
}

// New returns an idle session for req. callerKey, when non-empty, is used
// instead of the configured key. req is defaulted and validated.
func (f *SessionFactory) New(req *llm.ChatRequest, callerKey string) (*Session, error) {
	if req == nil {
		return nil, errors.New("nil chat request")
	}

	key := strings.TrimSpace(callerKey)
	if key == "" {
		key = f.apiKey
	}
	if key == "" {
		return nil, ErrMissingCredential
	}

	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		ID:      id,
		req:     req,
		apiKey:  key,
		client:  f.client,
		tracker: dedup.NewTracker(),
		pacing:  f.Pacing(),
		logger:  f.logger.With("session_id", id),
		state:   StateIdle,
	}, nil
}
