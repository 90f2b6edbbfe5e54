// Package history records container lifecycle events to pluggable sinks
// (SQLite, PostgreSQL, ClickHouse) so throwaway-database churn can be
// audited after the containers themselves are gone.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated EventType = "created"
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventDeleted EventType = "deleted"
	EventCloned  EventType = "cloned"
	EventRenamed EventType = "renamed"
)

// Event represents one container lifecycle transition.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Container  string    `json:"container"`
	Engine     string    `json:"engine"`
	Version    string    `json:"version"`
	Port       int       `json:"port"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New stamps a fresh event with a unique id and the current UTC time.
func New(t EventType, container, engine, version string, port int) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Container:  container,
		Engine:     engine,
		Version:    version,
		Port:       port,
		OccurredAt: time.Now().UTC(),
	}
}

// WithDetail returns a copy of e carrying extra context, such as the
// clone source or the previous name of a renamed container.
func (e Event) WithDetail(detail string) Event {
	e.Detail = detail
	return e
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
