package alerting

import (
	"context"

	"github.com/google/uuid"
)

// Notifier delivers one alert to an external channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Guard enforces at-most-one dispatch per detection ID across processes.
type Guard interface {
	// Acquire returns true when this caller owns the dispatch for the
	// detection; false means another dispatch already claimed it.
	Acquire(ctx context.Context, detectionID uuid.UUID) (bool, error)
}

// Recorder persists the terminal dispatch state of an event.
type Recorder interface {
	RecordAlert(ctx context.Context, event Event) error
}
