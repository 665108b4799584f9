package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// NameDetector scans the process table for a process with the expected
// executable name that was started after the original launch.
type NameDetector struct {
	Table Table
	Self  int // PID of the tool itself; 0 means os.Getpid()
}

func (d NameDetector) Find(ctx context.Context, q Query) (Candidate, bool, error) {
	name := q.Name
	if name == "" {
		name = q.Dead.Name
	}
	if name == "" {
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
	since := q.Since.Add(-clockSlack)
	var matches []Candidate
	for _, c := range procs {
		if c.PID == q.Dead.PID || c.PID == self || !sameName(c.Name, name) {
			continue
		}
		if c.Created.IsZero() || c.Created.Before(since) {
			continue
		}
		if d.Table.Alive(ctx, c.PID) {
			matches = append(matches, c)
		}
	}
	c, ok := newest(matches)
	return c, ok, nil
}

func (d NameDetector) Describe() string { return "name" }

// Chain runs detectors in order and returns the first successor found.
type Chain []Detector

func (ch Chain) Find(ctx context.Context, q Query) (Candidate, bool, error) {
	var errs []error
	for _, d := range ch {
		c, ok, err := d.Find(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Describe(), err))
			continue
		}
		if ok {
			return c, true, nil
		}
	}
	return Candidate{}, false, errors.Join(errs...)
}

func (ch Chain) Describe() string {
	s := ""
	for i, d := range ch {
		if i > 0 {
			s += "+"
		}
		s += d.Describe()
	}
	return s
}

// Default returns the successor rule used by launches: recorded children
// first, then members of the target's session, then a name scan.
func Default(t Table, tracker *Tracker) Detector {
	return Chain{DescendantDetector{Tracker: tracker}, SessionDetector{Table: t}, NameDetector{Table: t}}
}
