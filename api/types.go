package api

import (
	"context"

	"prism-events/domain"
)

// EventStore is the write and history side of the event log.
type EventStore interface {
	Submit(ev domain.Event)
	History() []domain.Event
}

// TaskReader serves the projected task list together with the log version it
// was computed from.
type TaskReader interface {
	Tasks(ctx context.Context) ([]domain.Task, int)
}

// Deduper prevents a retried request from submitting its events twice.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, key string) (bool, error)
}
