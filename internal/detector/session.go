package detector

import (
	"context"
	"fmt"
	"os"
)

// SessionDetector finds processes left in the session of the original
// target. Targets are started as session leaders, so anything they fork keeps
// the session ID even after it is re-parented to init.
type SessionDetector struct {
	Table Table
	Self  int // PID of the tool itself; 0 means os.Getpid()
}

func (d SessionDetector) Find(ctx context.Context, q Query) (Candidate, bool, error) {
	if q.Session <= 0 {
		return Candidate{}, false, nil
	}
	self := d.Self
	if self == 0 {
		self = os.Getpid()
	}
	procs, err := d.Table.Processes(ctx)
	if err != nil {
		return Candidate{}, false, fmt.Errorf("list processes: %w", err)
	}
	var members, named []Candidate
	for _, c := range procs {
		if c.Session != q.Session || c.PID == q.Dead.PID || c.PID == self {
			continue
		}
		if !d.Table.Alive(ctx, c.PID) {
			continue
		}
		members = append(members, c)
		if q.Name != "" && sameName(c.Name, q.Name) {
			named = append(named, c)
		}
	}
	if len(named) > 0 {
		members = named
	}
	c, ok := newest(members)
	return c, ok, nil
}

func (d SessionDetector) Describe() string { return "session" }
