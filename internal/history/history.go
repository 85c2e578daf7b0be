package history

import (
	"context"
	"time"
)

// EventType is the kind of phase-run event.
type EventType string

const (
	EventStart EventType = "start"
	EventEnd   EventType = "end"
)

// Record is what we persist about one engine phase run.
type Record struct {
	Phase     string    `json:"phase"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Outcome   string    `json:"outcome"` // terminal supervisor state for this run
	Reason    string    `json:"reason"`  // engine_error, freeze_timeout, exit, ...
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	LastLine  string    `json:"last_line"`
}

// Event is a phase-run lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
