package relay

import "expvar"

// Counters published under /debug/vars.
var (
	sessionsStarted     = expvar.NewInt("relay_sessions_started")
	sessionsEnded       = expvar.NewMap("relay_sessions_ended")
	fragmentsSuppressed = expvar.NewInt("relay_fragments_suppressed")
	fragmentsTrimmed    = expvar.NewInt("relay_fragments_trimmed")
	guestRejected       = expvar.NewInt("relay_guest_quota_rejected")
)
