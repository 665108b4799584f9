package supervisor

import (
	"time"

	"github.com/loykin/affinity/internal/profile"
)

// Target is everything needed for one launch. It is built per invocation
// and never persisted.
type Target struct {
	Profile   string // profile name, empty for one-shot launches
	Path      string
	Args      []string
	Cores     []int
	Priority  profile.Priority
	Attempts  int    // apply passes; 0 means profile.DefaultRetryAttempts
	Successor string // expected successor executable name, optional
}

// TargetFromProfile builds a Target, appending runtime args after the
// profile's own.
func TargetFromProfile(p profile.Profile, args []string) Target {
	all := make([]string, 0, len(p.Args)+len(args))
	all = append(all, p.Args...)
	all = append(all, args...)
	return Target{
		Profile:   p.Name,
		Path:      p.Path,
		Args:      all,
		Cores:     append([]int(nil), p.CPUs...),
		Priority:  p.Priority,
		Attempts:  p.RetryAttempts,
		Successor: p.Successor,
	}
}

// State is a step of the launch state machine.
type State int

const (
	StateSpawned State = iota
	StateVerifying
	StateRetrying
	StateRespawned
	StateApplied
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateVerifying:
		return "verifying"
	case StateRetrying:
		return "retrying"
	case StateRespawned:
		return "respawned"
	case StateApplied:
		return "applied"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Status is the final result of a launch.
type Status int

const (
	Applied Status = iota
	AppliedWithWarnings
	PartiallyApplied
	Abandoned
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case AppliedWithWarnings:
		return "applied_with_warnings"
	case PartiallyApplied:
		return "partially_applied"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// ApplyResult is the outcome of one apply pass.
type ApplyResult struct {
	AffinityApplied bool
	PriorityApplied bool
	AffinityErr     error
	PriorityErr     error
}

// Err returns the first failure of the pass.
func (r ApplyResult) Err() error {
	if r.AffinityErr != nil {
		return r.AffinityErr
	}
	return r.PriorityErr
}

// Outcome reports what a launch achieved. The target keeps running
// whatever the status.
type Outcome struct {
	ID       string
	Status   Status
	PID      int
	Name     string
	Attempts int // apply passes performed
	Respawns int

	// Warnings lists requested cores the host does not have.
	Warnings []int

	AffinityOK bool
	PriorityOK bool
	Affinity   []int            // last read-back
	Priority   profile.Priority // last read-back

	Err      error
	Started  time.Time
	Duration time.Duration
}

// Failed lists what did not verify, for PartiallyApplied reporting.
func (o Outcome) Failed() []string {
	var out []string
	if !o.AffinityOK {
		out = append(out, "affinity")
	}
	if !o.PriorityOK {
		out = append(out, "priority")
	}
	return out
}
