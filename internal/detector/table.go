package detector

import (
	"context"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/affinity/internal/platform"
)

// SystemTable reads the live process table through gopsutil.
type SystemTable struct{}

func (SystemTable) Processes(ctx context.Context) ([]Candidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(procs))
	for _, p := range procs {
		// processes can vanish between listing and inspection
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		c := Candidate{PID: int(p.Pid), Name: name, Session: platform.SessionID(int(p.Pid))}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			c.Parent = int(ppid)
		}
		if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
			c.Created = time.UnixMilli(ms)
		}
		out = append(out, c)
	}
	return out, nil
}

func (SystemTable) Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	if st, err := p.StatusWithContext(ctx); err == nil && slices.Contains(st, process.Zombie) {
		return false
	}
	return true
}
