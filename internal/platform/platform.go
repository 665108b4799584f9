package platform

import (
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/loykin/affinity/internal/profile"
)

// Handle identifies a running process. done is set only for processes the
// tool spawned itself and is closed once the child has been reaped.
type Handle struct {
	PID     int
	Name    string    // executable base name
	Created time.Time // zero when unknown
	done    <-chan struct{}
}

func NewHandle(pid int, name string, created time.Time, done <-chan struct{}) Handle {
	return Handle{PID: pid, Name: name, Created: created, done: done}
}

// Reaped reports whether the tool has observed this child's exit.
func (h Handle) Reaped() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h Handle) String() string {
	if h.Name == "" {
		return fmt.Sprintf("pid:%d", h.PID)
	}
	return fmt.Sprintf("%s(pid:%d)", h.Name, h.PID)
}

// Driver applies and reads back CPU affinity and scheduling priority.
type Driver interface {
	// Preflight reports ToolMissing when the driver cannot work on this host.
	Preflight(cores []int) error
	SetAffinity(h Handle, cores []int) error
	Affinity(h Handle) ([]int, error)
	SetPriority(h Handle, p profile.Priority) error
	Priority(h Handle) (profile.Priority, error)
}

// New returns the driver for the running OS.
func New() Driver { return newDriver() }

// HostCores returns the number of logical processors.
func HostCores() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ExistingCores drops cores that are not present on a host with hostCores
// logical processors, keeping order. The OS ignores such cores, so drivers
// never send them.
func ExistingCores(cores []int, hostCores int) []int {
	if hostCores <= 0 {
		return append([]int(nil), cores...)
	}
	out := make([]int, 0, len(cores))
	for _, c := range cores {
		if c >= 0 && c < hostCores {
			out = append(out, c)
		}
	}
	return out
}
