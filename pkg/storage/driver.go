// Package storage persists the transcripts of finished relay sessions.
package storage

import "context"

// Driver defines the interface for persisting and retrieving transcripts in a
// storage backend.
type Driver interface {
	// Put stores a transcript. Returns true if it was newly inserted, false
	// if a transcript with the same ID already exists, in which case Put is
	// a no-op.
	Put(ctx context.Context, t *Transcript) (bool, error)

	// Get retrieves a transcript by ID. Returns NotFoundError on a miss.
	Get(ctx context.Context, id string) (*Transcript, error)

	// List returns transcripts newest first.
	List(ctx context.Context, opts ListOptions) ([]*Transcript, error)

	// Close closes the store and releases any resources.
	Close() error
}

// DefaultListLimit applies when ListOptions.Limit is not positive.
const DefaultListLimit = 50

// ListOptions filters List.
type ListOptions struct {
	// Outcome restricts results to one outcome when set.
	Outcome Outcome

	// Limit caps the number of results.
	Limit int
}

// EffectiveLimit returns Limit or DefaultListLimit.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
