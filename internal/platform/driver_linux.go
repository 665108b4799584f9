//go:build linux

package platform

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
)

const maxLinuxCPUs = 1024 // CPU_SETSIZE

// linuxDriver sets affinity through taskset(1) and priority through
// setpriority(2) on every thread of the target.
type linuxDriver struct {
	lookPath  func(string) (string, error)
	hostCores func() int
}

func newDriver() Driver {
	return &linuxDriver{lookPath: exec.LookPath, hostCores: HostCores}
}

func (d *linuxDriver) taskset() (string, error) {
	p, err := d.lookPath("taskset")
	if err != nil {
		return "", errdefs.New(errdefs.ToolMissing, "taskset", errors.New("taskset not found in PATH (install util-linux)"))
	}
	return p, nil
}

func (d *linuxDriver) Preflight(cores []int) error {
	if len(cores) == 0 {
		return nil
	}
	_, err := d.taskset()
	return err
}

func (d *linuxDriver) SetAffinity(h Handle, cores []int) error {
	if len(cores) == 0 {
		return nil
	}
	bin, err := d.taskset()
	if err != nil {
		return err
	}
	valid := ExistingCores(cores, d.hostCores())
	if len(valid) == 0 {
		// none of the requested cores exist; the kernel would ignore them all
		return nil
	}
	// #nosec G204 -- fixed binary, numeric arguments
	cmd := exec.Command(bin, "-a", "-p", "-c", profile.FormatCores(valid), strconv.Itoa(h.PID))
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	return classifyTaskset(h, string(out), err)
}

func classifyTaskset(h Handle, out string, err error) error {
	msg := strings.ToLower(out)
	op := "set affinity " + h.String()
	detail := errors.New(strings.TrimSpace(out))
	if strings.TrimSpace(out) == "" {
		detail = err
	}
	switch {
	case strings.Contains(msg, "no such process") || !pidExists(h.PID):
		return errdefs.New(errdefs.ProcessNotFound, op, detail)
	case strings.Contains(msg, "not permitted") || strings.Contains(msg, "permission denied"):
		return errdefs.New(errdefs.PermissionDenied, op, detail)
	default:
		return errdefs.New(errdefs.System, op, detail)
	}
}

func (d *linuxDriver) Affinity(h Handle) ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(h.PID, &set); err != nil {
		return nil, classifyErrno("read affinity "+h.String(), err)
	}
	var out []int
	for i := 0; i < maxLinuxCPUs; i++ {
		if set.IsSet(i) {
			out = append(out, i)
		}
	}
	return out, nil
}

func (d *linuxDriver) SetPriority(h Handle, p profile.Priority) error {
	nice := NiceValue(p)
	op := "set priority " + h.String()
	if err := unix.Setpriority(unix.PRIO_PROCESS, h.PID, nice); err != nil {
		return classifyErrno(op, err)
	}
	// nice is per thread on Linux; apply to the threads that already exist
	for _, tid := range threadIDs(h.PID) {
		if tid == h.PID {
			continue
		}
		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, nice); err != nil && !errors.Is(err, unix.ESRCH) {
			return classifyErrno(op, err)
		}
	}
	return nil
}

func (d *linuxDriver) Priority(h Handle) (profile.Priority, error) {
	st, err := readProcStat(h.PID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return profile.Normal, errdefs.New(errdefs.ProcessNotFound, "read priority "+h.String(), err)
		}
		return profile.Normal, errdefs.New(errdefs.System, "read priority "+h.String(), err)
	}
	return PriorityFromNice(st.Nice)
}

func classifyErrno(op string, err error) error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return errdefs.New(errdefs.ProcessNotFound, op, err)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return errdefs.New(errdefs.PermissionDenied, op, err)
	default:
		return errdefs.New(errdefs.System, op, err)
	}
}

func threadIDs(pid int) []int {
	entries, err := os.ReadDir("/proc/" + strconv.Itoa(pid) + "/task")
	if err != nil {
		return nil
	}
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		if tid, err := strconv.Atoi(e.Name()); err == nil {
			out = append(out, tid)
		}
	}
	return out
}

func pidExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
