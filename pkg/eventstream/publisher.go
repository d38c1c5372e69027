package eventstream

import "context"

// Publisher publishes session events to an event stream backend.
type Publisher interface {
	PublishSessionEnded(ctx context.Context, event *SessionEndedEvent) error
	Close() error
}
