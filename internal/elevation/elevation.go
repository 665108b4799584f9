package elevation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/affinity/internal/profile"
)

// Flags understood by the tool's root command when it re-invokes itself.
const (
	ElevatedFlag  = "--elevated"
	TransientFlag = "--transient"
)

// State is the privilege level of the running tool.
type State int

const (
	Unprivileged State = iota
	Elevated
)

func (s State) String() string {
	if s == Elevated {
		return "elevated"
	}
	return "unprivileged"
}

// Decision tells the caller whether to launch in this process.
type Decision int

const (
	// Proceed means launch here.
	Proceed Decision = iota
	// HandedOff means an elevated instance took over; exit without launching.
	HandedOff
)

func (d Decision) String() string {
	if d == HandedOff {
		return "handed_off"
	}
	return "proceed"
}

// Privileges abstracts the OS privilege model.
type Privileges interface {
	IsElevated() bool
	// CanElevate reports whether the OS offers an interactive elevation
	// prompt the tool can trigger.
	CanElevate() bool
	// Relaunch starts exe elevated with args and returns once it was started.
	Relaunch(exe string, args []string, dir string) error
}

// Request describes the launch that may need elevation.
type Request struct {
	// Profile is the saved profile name. When empty, Unsaved is written to a
	// transient file for the elevated instance.
	Profile string
	Unsaved profile.Profile
	Args    []string

	Priority profile.Priority
	// Marked is true when this process was itself started with ElevatedFlag.
	Marked bool

	// Extra flags forwarded to the elevated instance, such as --config.
	Forward []string
}

// Negotiator decides whether a launch runs here or in an elevated copy of
// the tool.
type Negotiator struct {
	priv         Privileges
	transientDir string
	executable   func() (string, error)
	log          *slog.Logger
}

func New(priv Privileges, transientDir string, log *slog.Logger) *Negotiator {
	if priv == nil {
		priv = System()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{priv: priv, transientDir: transientDir, executable: os.Executable, log: log}
}

func (n *Negotiator) State() State {
	if n.priv.IsElevated() {
		return Elevated
	}
	return Unprivileged
}

// Negotiate returns HandedOff once an elevated instance has been started for
// req, Proceed otherwise. A process marked as already elevated never
// relaunches again, so a failed elevation cannot loop.
func (n *Negotiator) Negotiate(ctx context.Context, req Request) (Decision, error) {
	if !req.Priority.NeedsElevation() || req.Marked || !n.priv.CanElevate() {
		return Proceed, nil
	}
	if n.State() == Elevated {
		return Proceed, nil
	}
	if err := ctx.Err(); err != nil {
		return Proceed, err
	}

	exe, err := n.executable()
	if err != nil {
		return Proceed, fmt.Errorf("locate own executable: %w", err)
	}
	args := append([]string{ElevatedFlag}, req.Forward...)
	cleanup := func() {}
	if req.Profile != "" {
		args = append(args, req.Profile)
		args = append(args, req.Args...)
	} else {
		path, err := profile.WriteTransient(n.transientDir, req.Unsaved, req.Args)
		if err != nil {
			return Proceed, err
		}
		cleanup = func() { _ = os.Remove(path) }
		args = append(args, TransientFlag, path)
	}

	n.log.Info("requesting elevation", "priority", req.Priority.String(), "profile", req.Profile)
	if err := n.priv.Relaunch(exe, args, filepath.Dir(exe)); err != nil {
		cleanup()
		// declined or failed prompt: launch unprivileged and let the
		// priority driver report PermissionDenied
		n.log.Warn("elevation failed, continuing unprivileged", "error", err)
		return Proceed, nil
	}
	return HandedOff, nil
}

var errNoElevation = errors.New("elevation prompt not available on this platform")
