//go:build !linux && !windows

package platform

import (
	"errors"
	"runtime"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
)

// unsupportedDriver keeps the module building on hosts other than Linux and
// Windows; every operation reports ToolMissing.
type unsupportedDriver struct{}

func newDriver() Driver { return unsupportedDriver{} }

func unsupported(op string) error {
	return errdefs.New(errdefs.ToolMissing, op, errors.New("not supported on "+runtime.GOOS))
}

func (unsupportedDriver) Preflight([]int) error { return unsupported("preflight") }
func (unsupportedDriver) SetAffinity(Handle, []int) error {
	return unsupported("set affinity")
}
func (unsupportedDriver) Affinity(Handle) ([]int, error) { return nil, unsupported("read affinity") }
func (unsupportedDriver) SetPriority(Handle, profile.Priority) error {
	return unsupported("set priority")
}
func (unsupportedDriver) Priority(Handle) (profile.Priority, error) {
	return profile.Normal, unsupported("read priority")
}

// StartTime is best-effort via gopsutil (sysctl under the hood).
// SessionID is only tracked on Linux.
func SessionID(int) int { return 0 }

func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
