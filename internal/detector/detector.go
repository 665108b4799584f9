package detector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/loykin/affinity/internal/platform"
)

// clockSlack absorbs the coarse resolution of process create times.
const clockSlack = time.Second

// Candidate is a process observed in the process table.
type Candidate struct {
	PID     int
	Parent  int
	Name    string
	Session int // 0 when unknown
	Created time.Time
}

// Handle converts the candidate into a platform handle. The tool did not
// spawn it, so the handle carries no reap channel.
func (c Candidate) Handle() platform.Handle {
	return platform.NewHandle(c.PID, c.Name, c.Created, nil)
}

// Query describes the process that exited and what its successor looks like.
type Query struct {
	Dead  platform.Handle
	Since time.Time // when the original target was spawned
	Name  string    // expected executable base name of the successor
	// Session is the session the original target leads; 0 disables the
	// session scan.
	Session int
}

// Detector is a strategy that looks for the process that took over from an
// exited launch target.
type Detector interface {
	// Find returns the successor, or false when none was found.
	Find(ctx context.Context, q Query) (Candidate, bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// Table abstracts the OS process table.
type Table interface {
	Processes(ctx context.Context) ([]Candidate, error)
	Alive(ctx context.Context, pid int) bool
}

// BaseName returns the executable name used to match successors.
func BaseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func sameName(a, b string) bool {
	a = strings.TrimSuffix(strings.ToLower(a), ".exe")
	b = strings.TrimSuffix(strings.ToLower(b), ".exe")
	return a != "" && a == b
}

// newest orders candidates by create time descending, lowest PID first on ties.
func newest(cs []Candidate) (Candidate, bool) {
	if len(cs) == 0 {
		return Candidate{}, false
	}
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Created.Equal(cs[j].Created) {
			return cs[i].Created.After(cs[j].Created)
		}
		return cs[i].PID < cs[j].PID
	})
	return cs[0], true
}

// IsAlive reports whether h still refers to a running process. A spawned
// child that has been reaped is dead even if its PID was reused, and a PID
// whose create time differs from the handle's belongs to someone else.
func IsAlive(ctx context.Context, t Table, h platform.Handle) bool {
	if h.PID <= 0 || h.Reaped() {
		return false
	}
	if !t.Alive(ctx, h.PID) {
		return false
	}
	if h.Created.IsZero() {
		return true
	}
	cur := platform.StartTime(h.PID)
	if cur.IsZero() {
		return true
	}
	d := cur.Sub(h.Created)
	return d < clockSlack && d > -clockSlack
}
