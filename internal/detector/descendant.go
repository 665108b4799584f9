package detector

import (
	"context"
	"fmt"
	"sync"
)

// Tracker remembers the direct children of the active target while it is
// alive, so that they can be found after the target exits and they are
// re-parented.
type Tracker struct {
	table Table

	mu   sync.Mutex
	seen map[int]Candidate
}

func NewTracker(t Table) *Tracker {
	return &Tracker{table: t, seen: make(map[int]Candidate)}
}

// Observe records the current children of pid.
func (t *Tracker) Observe(ctx context.Context, pid int) error {
	procs, err := t.table.Processes(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range procs {
		if c.Parent == pid && c.PID != pid {
			t.seen[c.PID] = c
		}
	}
	return nil
}

// Recorded returns every child observed so far.
func (t *Tracker) Recorded() []Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Candidate, 0, len(t.seen))
	for _, c := range t.seen {
		out = append(out, c)
	}
	return out
}

// Forget drops a recorded child, typically once it has been adopted.
func (t *Tracker) Forget(pid int) {
	t.mu.Lock()
	delete(t.seen, pid)
	t.mu.Unlock()
}

// DescendantDetector picks the newest still-running child recorded by its
// Tracker.
type DescendantDetector struct {
	Tracker *Tracker
}

func (d DescendantDetector) Find(ctx context.Context, q Query) (Candidate, bool, error) {
	var alive []Candidate
	for _, c := range d.Tracker.Recorded() {
		if c.PID == q.Dead.PID {
			continue
		}
		if d.Tracker.table.Alive(ctx, c.PID) {
			alive = append(alive, c)
		}
	}
	c, ok := newest(alive)
	return c, ok, nil
}

func (d DescendantDetector) Describe() string { return "children" }
