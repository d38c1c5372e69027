// Package quota limits how many relay sessions a guest may run on the
// relay's own upstream credential.
package quota

import "sync"

// Limiter counts sessions per guest key. A zero limit disables it.
type Limiter struct {
	limit uint

	mu   sync.Mutex
	used map[string]uint
}

// NewLimiter returns a Limiter allowing limit sessions per key.
func NewLimiter(limit uint) *Limiter {
	return &Limiter{
		limit: limit,
		used:  make(map[string]uint),
	}
}

// Enabled reports whether the limiter enforces anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow consumes one session for key and reports whether it was within quota.
// Rejected attempts do not count against the key.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.used[key] >= l.limit {
		return false
	}
	l.used[key]++
	return true
}

// Remaining returns how many sessions key has left.
func (l *Limiter) Remaining(key string) uint {
	if !l.Enabled() {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - l.used[key]
}
