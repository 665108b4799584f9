package history

import (
	"context"
	"time"
)

// Event is one finished launch, exported to the configured history store.
type Event struct {
	ID         string        `json:"id"`
	OccurredAt time.Time     `json:"occurred_at"`
	Profile    string        `json:"profile"`
	Path       string        `json:"path"`
	PID        int           `json:"pid"`
	Name       string        `json:"name"`
	Status     string        `json:"status"`
	Attempts   int           `json:"attempts"`
	Respawns   int           `json:"respawns"`
	Cores      string        `json:"cores"`
	Priority   string        `json:"priority"`
	ErrKind    string        `json:"err_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Sink is a destination for launch events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Table is the relational table name used by the SQL sinks.
const Table = "launch_history"
