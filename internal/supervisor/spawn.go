package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/loykin/affinity/internal/detector"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/platform"
)

// Spawner starts the launch target.
type Spawner interface {
	Spawn(ctx context.Context, path string, args []string) (platform.Handle, error)
}

// ExecSpawner starts targets detached from the tool, with stdio on the null
// device, so that they outlive it.
type ExecSpawner struct {
	Dir string   // working directory; empty means the executable's directory
	Env []string // nil inherits the tool's environment
}

func (s ExecSpawner) Spawn(_ context.Context, path string, args []string) (platform.Handle, error) {
	op := "spawn " + path
	// not CommandContext: cancelling the launch must never kill the target
	// #nosec G204 -- launching user-chosen programs is the purpose of the tool
	cmd := exec.Command(path, args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(path)
	}
	configureSysProcAttr(cmd)

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return platform.Handle{}, errdefs.New(errdefs.SpawnFailed, op, err)
	}
	defer func() { _ = null.Close() }()
	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null

	if err := cmd.Start(); err != nil {
		return platform.Handle{}, errdefs.New(errdefs.SpawnFailed, op, err)
	}
	pid := cmd.Process.Pid
	done := make(chan struct{})
	// reap the child so an exited target is not seen as a live zombie
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return platform.NewHandle(pid, detector.BaseName(path), platform.StartTime(pid), done), nil
}

// ResolveExecutable returns the absolute path of the program to launch. Bare
// names are looked up in PATH.
func ResolveExecutable(path string) (string, error) {
	op := "resolve executable"
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errdefs.New(errdefs.ExecutableNotFound, op, errors.New("empty path"))
	}
	if !strings.ContainsAny(path, `/\`) {
		found, err := exec.LookPath(path)
		if err != nil {
			return "", errdefs.New(errdefs.ExecutableNotFound, op, err)
		}
		path = found
	}
	fi, err := os.Stat(path)
	if err != nil {
		return "", errdefs.New(errdefs.ExecutableNotFound, op, err)
	}
	if fi.IsDir() {
		return "", errdefs.New(errdefs.ExecutableNotFound, op, fmt.Errorf("%s is a directory", path))
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
