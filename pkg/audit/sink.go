package audit

import (
	"context"
	"time"
)

// Sink persists audit entries.
type Sink interface {
	// WriteEvent stores a decision event.
	WriteEvent(ctx context.Context, e *Event) error

	// WriteAlert stores a quota alert.
	WriteAlert(ctx context.Context, a *Alert) error

	// Events returns events matching q, newest first.
	Events(ctx context.Context, q Query) ([]*Event, error)

	// Alerts returns alerts matching q, newest first. q.Outcome is ignored.
	Alerts(ctx context.Context, q Query) ([]*Alert, error)

	// DeleteEventsBefore removes events recorded before cutoff.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// DeleteAlertsBefore removes alerts recorded before cutoff.
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}
