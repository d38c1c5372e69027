package relay

import (
	"time"

	"github.com/papercomputeco/relay/pkg/upstream"
)

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Upstream configures the upstream client: URL, attribution headers and
	// timeouts. Its Logger is replaced by the relay's logger.
	Upstream upstream.Options

	// APIKey is the upstream credential used when a caller sends none.
	APIKey string

	// Pacing is the delay after each relayed message event.
	Pacing time.Duration

	// GuestQuota limits sessions per client IP for callers relying on
	// APIKey. Zero disables the limit.
	GuestQuota uint

	// Service names this relay in published session events.
	Service string

	// NumWorkers is the size of the persistence worker pool.
	NumWorkers uint
}
