// Package inmemory provides a map-backed storage driver for tests and
// ephemeral relays.
package inmemory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/papercomputeco/relay/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu guards transcripts
	mu sync.RWMutex

	// transcripts keyed by transcript ID
	transcripts map[string]*storage.Transcript
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		transcripts: make(map[string]*storage.Transcript),
	}
}

// Put stores a copy of t. Returns false if the ID was already stored.
func (s *Driver) Put(_ context.Context, t *storage.Transcript) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transcripts[t.ID]; ok {
		return false, nil
	}

	s.transcripts[t.ID] = clone(t)
	return true, nil
}

// Get retrieves a transcript by ID.
func (s *Driver) Get(_ context.Context, id string) (*storage.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transcripts[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	return clone(t), nil
}

// List returns stored transcripts newest first.
func (s *Driver) List(_ context.Context, opts storage.ListOptions) ([]*storage.Transcript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*storage.Transcript, 0, len(s.transcripts))
	for _, t := range s.transcripts {
		if opts.Outcome != "" && t.Outcome != opts.Outcome {
			continue
		}
		out = append(out, clone(t))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of stored transcripts.
func (s *Driver) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.transcripts)
}

// Close is a no-op.
func (s *Driver) Close() error {
	return nil
}

func clone(t *storage.Transcript) *storage.Transcript {
	c := *t
	c.Messages = slices.Clone(t.Messages)
	return &c
}
