package publisher

import (
	"context"

	"github.com/Checker-Finance/oneself-console/pkg/model"
)

// Publisher emits session lifecycle events to the rest of the platform.
type Publisher interface {
	PublishSessionEvent(ctx context.Context, evt model.SessionEvent) error
	Close() error
}

// Noop discards every event. Used when EVENTS_BACKEND=none.
type Noop struct{}

func (Noop) PublishSessionEvent(context.Context, model.SessionEvent) error { return nil }

func (Noop) Close() error { return nil }
