//go:build windows

package platform

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
)

var (
	modkernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procSetProcessAffinityMask = modkernel32.NewProc("SetProcessAffinityMask")
	procGetProcessAffinityMask = modkernel32.NewProc("GetProcessAffinityMask")
	procGetPriorityClass       = modkernel32.NewProc("GetPriorityClass")
)

var priorityClasses = map[profile.Priority]uint32{
	profile.Idle:        windows.IDLE_PRIORITY_CLASS,
	profile.BelowNormal: windows.BELOW_NORMAL_PRIORITY_CLASS,
	profile.Normal:      windows.NORMAL_PRIORITY_CLASS,
	profile.AboveNormal: windows.ABOVE_NORMAL_PRIORITY_CLASS,
	profile.High:        windows.HIGH_PRIORITY_CLASS,
	profile.Realtime:    windows.REALTIME_PRIORITY_CLASS,
}

type windowsDriver struct{}

func newDriver() Driver { return windowsDriver{} }

func (windowsDriver) Preflight([]int) error { return nil }

func openProcess(h Handle, access uint32, op string) (windows.Handle, error) {
	ph, err := windows.OpenProcess(access, false, uint32(h.PID))
	if err != nil {
		return 0, classifyWinErr(op, err)
	}
	return ph, nil
}

func classifyWinErr(op string, err error) error {
	switch {
	case errors.Is(err, windows.ERROR_ACCESS_DENIED), errors.Is(err, windows.ERROR_PRIVILEGE_NOT_HELD):
		return errdefs.New(errdefs.PermissionDenied, op, err)
	case errors.Is(err, windows.ERROR_INVALID_PARAMETER), errors.Is(err, windows.ERROR_INVALID_HANDLE):
		return errdefs.New(errdefs.ProcessNotFound, op, err)
	default:
		return errdefs.New(errdefs.System, op, err)
	}
}

func affinityMasks(ph windows.Handle) (uint64, uint64, error) {
	var procMask, sysMask uintptr
	r1, _, e1 := procGetProcessAffinityMask.Call(uintptr(ph), uintptr(unsafe.Pointer(&procMask)), uintptr(unsafe.Pointer(&sysMask)))
	if r1 == 0 {
		return 0, 0, e1
	}
	return uint64(procMask), uint64(sysMask), nil
}

func (windowsDriver) SetAffinity(h Handle, cores []int) error {
	if len(cores) == 0 {
		return nil
	}
	op := "set affinity " + h.String()
	mask, err := BuildMask(cores)
	if err != nil {
		return err
	}
	ph, err := openProcess(h, windows.PROCESS_SET_INFORMATION|windows.PROCESS_QUERY_INFORMATION, op)
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(ph) }()

	_, sysMask, err := affinityMasks(ph)
	if err != nil {
		return classifyWinErr(op, err)
	}
	// cores the system does not have are ignored, as with an oversized mask
	mask &= sysMask
	if mask == 0 {
		return nil
	}
	r1, _, e1 := procSetProcessAffinityMask.Call(uintptr(ph), uintptr(mask))
	if r1 == 0 {
		return classifyWinErr(op, e1)
	}
	return nil
}

func (windowsDriver) Affinity(h Handle) ([]int, error) {
	op := "read affinity " + h.String()
	ph, err := openProcess(h, windows.PROCESS_QUERY_LIMITED_INFORMATION, op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = windows.CloseHandle(ph) }()
	procMask, _, err := affinityMasks(ph)
	if err != nil {
		return nil, classifyWinErr(op, err)
	}
	return MaskCores(procMask), nil
}

func (windowsDriver) SetPriority(h Handle, p profile.Priority) error {
	op := "set priority " + h.String()
	class, ok := priorityClasses[p]
	if !ok {
		return errdefs.Errorf(errdefs.InvalidProfile, op, "unknown priority %d", int(p))
	}
	ph, err := openProcess(h, windows.PROCESS_SET_INFORMATION, op)
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(ph) }()
	if err := windows.SetPriorityClass(ph, class); err != nil {
		return classifyWinErr(op, err)
	}
	return nil
}

func (windowsDriver) Priority(h Handle) (profile.Priority, error) {
	op := "read priority " + h.String()
	ph, err := openProcess(h, windows.PROCESS_QUERY_LIMITED_INFORMATION, op)
	if err != nil {
		return profile.Normal, err
	}
	defer func() { _ = windows.CloseHandle(ph) }()
	r1, _, e1 := procGetPriorityClass.Call(uintptr(ph))
	if r1 == 0 {
		return profile.Normal, classifyWinErr(op, e1)
	}
	for p, c := range priorityClasses {
		if uint32(r1) == c {
			return p, nil
		}
	}
	return profile.Normal, errdefs.Errorf(errdefs.System, op, "unknown priority class 0x%X", uint32(r1))
}

// StartTime returns the process creation time, or the zero time when unknown.
// SessionID is only tracked on Linux.
func SessionID(int) int { return 0 }

func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}
	ph, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return time.Time{}
	}
	defer func() { _ = windows.CloseHandle(ph) }()
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(ph, &creation, &exit, &kernel, &user); err != nil {
		return time.Time{}
	}
	return time.Unix(0, creation.Nanoseconds())
}
