package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinity"
	"github.com/loykin/affinity/internal/config"
	"github.com/loykin/affinity/internal/detector"
	"github.com/loykin/affinity/internal/elevation"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/platform"
	"github.com/loykin/affinity/internal/profile"
	"github.com/loykin/affinity/internal/prompt"
	"github.com/loykin/affinity/internal/supervisor"
)

const fakePID = 515151

type fakeOS struct {
	mu       sync.Mutex
	spawns   int
	args     []string
	cores    []int
	priority profile.Priority
	// ignore drops priority changes so verification never succeeds
	ignore bool
}

func (f *fakeOS) Spawn(_ context.Context, _ string, args []string) (platform.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawns++
	f.args = args
	return platform.NewHandle(fakePID, "game", time.Time{}, nil), nil
}

func (f *fakeOS) Processes(context.Context) ([]detector.Candidate, error) {
	return []detector.Candidate{{PID: fakePID, Name: "game"}}, nil
}

func (f *fakeOS) Alive(_ context.Context, pid int) bool { return pid == fakePID }

func (f *fakeOS) Preflight([]int) error { return nil }

func (f *fakeOS) SetAffinity(_ platform.Handle, cores []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cores = append([]int(nil), cores...)
	return nil
}

func (f *fakeOS) Affinity(platform.Handle) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.cores...), nil
}

func (f *fakeOS) SetPriority(_ platform.Handle, p profile.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ignore {
		f.priority = p
	}
	return nil
}

func (f *fakeOS) Priority(platform.Handle) (profile.Priority, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority, nil
}

type fakePrivileges struct {
	relaunched []string
	noPrompt   bool // no elevation prompt, as on Linux
}

func (p *fakePrivileges) IsElevated() bool { return false }
func (p *fakePrivileges) CanElevate() bool { return !p.noPrompt }
func (p *fakePrivileges) Relaunch(_ string, args []string, _ string) error {
	p.relaunched = args
	return nil
}

type harness struct {
	c      *command
	cfg    *config.Config
	os     *fakeOS
	priv   *fakePrivileges
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	input  string
	dir    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{ProfilesFile: filepath.Join(dir, "profiles.json")}
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.Supervisor.Backoff = time.Millisecond
	cfg.History.Enabled = true
	cfg.History.DSN = filepath.Join(dir, "history.db")

	h := &harness{
		cfg:    cfg,
		os:     &fakeOS{},
		priv:   &fakePrivileges{},
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		dir:    dir,
	}
	c := newCommand(&GlobalFlags{})
	c.stdin = strings.NewReader("")
	c.stdout = h.stdout
	c.stderr = h.stderr
	c.open = func(*GlobalFlags) (*affinity.Launcher, error) {
		return affinity.New(affinity.Options{
			Config:     cfg,
			Console:    io.Discard,
			Privileges: h.priv,
			Supervisor: supervisor.Options{
				Driver:    h.os,
				Spawner:   h.os,
				Table:     h.os,
				HostCores: 8,
				Sleep:     func(context.Context, time.Duration) error { return nil },
			},
		})
	}
	c.prompter = func() prompt.Prompter {
		return prompt.NewLinePrompter(strings.NewReader(h.input), io.Discard)
	}
	c.executable = func() (string, error) { return "/usr/local/bin/affinity", nil }
	h.c = c
	return h
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	root := buildRoot(h.c)
	root.SetArgs(args)
	root.SetOut(h.stdout)
	root.SetErr(h.stderr)
	return root.ExecuteContext(context.Background())
}

func testExecutable(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return exe
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		res  affinity.Result
		err  error
		want int
	}{
		{"applied", affinity.Result{Outcome: supervisor.Outcome{Status: supervisor.Applied}}, nil, exitOK},
		{"warnings", affinity.Result{Outcome: supervisor.Outcome{Status: supervisor.AppliedWithWarnings}}, nil, exitOK},
		{"partial", affinity.Result{Outcome: supervisor.Outcome{Status: supervisor.PartiallyApplied}}, nil, exitPartial},
		{"abandoned", affinity.Result{Outcome: supervisor.Outcome{Status: supervisor.Abandoned}}, nil, exitAbandon},
		{"handed off", affinity.Result{Decision: elevation.HandedOff}, nil, exitOK},
		{"fatal", affinity.Result{}, errors.New("boom"), exitFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, launchExitCode(tt.res, tt.err))
		})
	}

	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.New("usage")))
	wrapped := &exitError{code: exitPartial, err: errors.New("partial"), reported: true}
	assert.Equal(t, exitPartial, exitCode(wrapped))
	assert.True(t, isReported(wrapped))
	assert.False(t, isReported(errors.New("plain")))
}

func TestMaskText(t *testing.T) {
	assert.Equal(t, "all cores", maskText(nil))
	assert.Equal(t, "0x5 (0,2)", maskText([]int{2, 0}))
	assert.Equal(t, "70", maskText([]int{70}))
}

func TestForward(t *testing.T) {
	assert.Empty(t, (&GlobalFlags{}).Forward())
	g := &GlobalFlags{ConfigPath: "/etc/affinity.toml", Pause: true, Elevated: true, Transient: "x"}
	assert.Equal(t, []string{"--config", "/etc/affinity.toml", "--pause"}, g.Forward())
}

func TestProfileFromFlags(t *testing.T) {
	p, err := profileFromFlags(ProfileFlags{Name: "game", Path: "/opt/game", CPUs: "0-2,5", Priority: "above_normal"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 5}, p.CPUs)
	assert.Equal(t, profile.AboveNormal, p.Priority)
	assert.Equal(t, profile.DefaultRetryAttempts, p.RetryAttempts)

	p, err = profileFromFlags(ProfileFlags{Name: "game", Path: "/opt/game", CPUs: "  "})
	require.NoError(t, err)
	assert.Empty(t, p.CPUs, "no --cpus means all cores")
	assert.Equal(t, profile.Normal, p.Priority)

	_, err = profileFromFlags(ProfileFlags{Name: "game"})
	assert.Error(t, err)
	_, err = profileFromFlags(ProfileFlags{Path: "/opt/game", CPUs: "0-2000000000"})
	assert.Error(t, err)
	_, err = profileFromFlags(ProfileFlags{Path: "/opt/game", CPUs: "a,b"})
	assert.Error(t, err)
	_, err = profileFromFlags(ProfileFlags{Path: "/opt/game", Priority: "turbo"})
	assert.Error(t, err)
	_, err = profileFromFlags(ProfileFlags{Path: "/opt/game", Retries: -1})
	assert.Equal(t, errdefs.InvalidProfile, errdefs.KindOf(err))
}

func TestAddListShowDelete(t *testing.T) {
	h := newHarness(t)
	exe := testExecutable(t)

	require.NoError(t, h.run(t, "add", "--name", "game", "--path", exe, "--cpus", "0,2", "--priority", "high", "--", "-windowed"))
	assert.Contains(t, h.stdout.String(), "Profile 'game' saved")

	err := h.run(t, "add", "--name", "game", "--path", exe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", exe, "--cpus", "1", "--force"))

	h.stdout.Reset()
	require.NoError(t, h.run(t, "list"))
	assert.Contains(t, h.stdout.String(), "game")

	h.stdout.Reset()
	require.NoError(t, h.run(t, "show", "game"))
	var shown map[string]profile.Profile
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &shown))
	assert.Equal(t, []int{1}, shown["game"].CPUs)
	assert.Equal(t, exe, shown["game"].Path)

	require.NoError(t, h.run(t, "delete", "game"))
	assert.Error(t, h.run(t, "delete", "game"))
	assert.Error(t, h.run(t, "show", "game"))

	h.stdout.Reset()
	require.NoError(t, h.run(t, "list"))
	assert.Contains(t, h.stdout.String(), "No saved profiles.")
}

func TestAddWarnsAboutMissingCores(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "add", "--name", "wide", "--path", testExecutable(t), "--cpus", "0,9,12"))
	assert.Contains(t, h.stderr.String(), "9,12")
}

func TestLaunchSavedProfile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", testExecutable(t), "--cpus", "0,2", "--priority", "above_normal", "--", "-windowed"))

	h.stdout.Reset()
	require.NoError(t, h.run(t, "game", "--fullscreen"))
	assert.Equal(t, []string{"-windowed", "--fullscreen"}, h.os.args)
	assert.Equal(t, []int{0, 2}, h.os.cores)
	out := h.stdout.String()
	assert.Contains(t, out, "Loaded saved profile 'game'")
	assert.Contains(t, out, "0x5 (0,2)")
	assert.Contains(t, out, "Program is running independently.")

	h.stdout.Reset()
	require.NoError(t, h.run(t, "history"))
	assert.Contains(t, h.stdout.String(), "applied")
}

func TestLaunchPartiallyAppliedExitCode(t *testing.T) {
	h := newHarness(t)
	h.os.ignore = true
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", testExecutable(t), "--cpus", "0,1", "--priority", "below_normal", "--retries", "2"))

	err := h.run(t, "game")
	require.Error(t, err)
	assert.Equal(t, exitPartial, exitCode(err))
	assert.True(t, isReported(err))
	assert.Contains(t, h.stdout.String(), "priority not confirmed")
}

func TestLaunchUnknownCreatesProfile(t *testing.T) {
	h := newHarness(t)
	h.input = testExecutable(t) + "\nx\n0,1\n\ny\n"

	require.NoError(t, h.run(t, "newgame"))
	assert.Contains(t, h.stdout.String(), "Profile saved!")
	assert.Equal(t, 1, h.os.spawns)

	h.stdout.Reset()
	require.NoError(t, h.run(t, "show", "newgame"))
	assert.Contains(t, h.stdout.String(), `"newgame"`)
}

func TestLaunchUnknownSaveFailureLaunchesAnyway(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs symlinks")
	}
	h := newHarness(t)
	// reads see no profiles, writes fail to create the directory
	link := filepath.Join(h.dir, "conf")
	require.NoError(t, os.Symlink(filepath.Join(h.dir, "missing", "conf"), link))
	h.cfg.ProfilesFile = filepath.Join(link, "profiles.json")
	h.input = testExecutable(t) + "\n0\n\ny\n"

	require.NoError(t, h.run(t, "newgame"))
	assert.Contains(t, h.stderr.String(), "Failed to save profile: ")
	assert.Contains(t, h.stderr.String(), "failed to create config directory")
	assert.Contains(t, h.stderr.String(), "launching without saving")
	assert.Equal(t, 1, h.os.spawns)
	assert.Equal(t, []int{0}, h.os.cores)
}

func TestLaunchUnknownWithoutSaving(t *testing.T) {
	h := newHarness(t)
	h.input = testExecutable(t) + "\n3\nidle\nn\n"

	require.NoError(t, h.run(t, "oneoff"))
	assert.Contains(t, h.stdout.String(), "Launching without saving profile...")
	assert.Equal(t, []int{3}, h.os.cores)
	assert.Equal(t, profile.Idle, h.os.priority)
	assert.Error(t, h.run(t, "show", "oneoff"))
}

func TestLaunchAbortedPrompt(t *testing.T) {
	h := newHarness(t)
	err := h.run(t, "nothing")
	require.Error(t, err)
	assert.Equal(t, exitFatal, exitCode(err))
	assert.Zero(t, h.os.spawns)
}

func TestLaunchHandsOffForHighPriority(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", testExecutable(t), "--priority", "high"))

	require.NoError(t, h.run(t, "--pause", "game", "-x"))
	assert.Zero(t, h.os.spawns)
	assert.Equal(t, []string{"--elevated", "--pause", "game", "-x"}, h.priv.relaunched)
	assert.Contains(t, h.stdout.String(), "elevated instance")
}

func TestDeniedPrioritySuggestsElevation(t *testing.T) {
	h := newHarness(t)
	h.priv.noPrompt = true
	h.os.ignore = true
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", testExecutable(t), "--cpus", "0", "--priority", "high", "--retries", "2"))

	err := h.run(t, "game")
	require.Error(t, err)
	assert.Equal(t, exitPartial, exitCode(err))
	assert.Contains(t, h.stdout.String(), elevationHint(runtime.GOOS, profile.High))

	assert.Contains(t, elevationHint("linux", profile.Realtime), "sudo")
	assert.Contains(t, elevationHint("windows", profile.High), "administrator")
}

func TestLaunchWithoutCoresLeavesAffinityAlone(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "exec", "--path", testExecutable(t), "--priority", "above_normal"))
	assert.Nil(t, h.os.cores)
	assert.Equal(t, profile.AboveNormal, h.os.priority)
}

func TestExecLaunchesWithoutSaving(t *testing.T) {
	h := newHarness(t)
	exe := testExecutable(t)
	require.NoError(t, h.run(t, "exec", "--path", exe, "--cpus", "1", "--", "-a", "b"))
	assert.Equal(t, []string{"-a", "b"}, h.os.args)
	assert.Equal(t, []int{1}, h.os.cores)

	h.stdout.Reset()
	require.NoError(t, h.run(t, "list"))
	assert.Contains(t, h.stdout.String(), "No saved profiles.")
}

func TestTransientLaunchRemovesFile(t *testing.T) {
	h := newHarness(t)
	path, err := profile.WriteTransient(h.dir, profile.Profile{
		Name: "oneoff", Path: testExecutable(t), CPUs: []int{4}, Priority: profile.Normal, RetryAttempts: 2,
	}, []string{"-v"})
	require.NoError(t, err)

	require.NoError(t, h.run(t, "--elevated", "--transient", path))
	assert.Equal(t, []string{"-v"}, h.os.args)
	assert.NoFileExists(t, path)
}

func TestShortcutCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "add", "--name", "game", "--path", testExecutable(t)))

	dir := filepath.Join(h.dir, "desktop")
	require.NoError(t, h.run(t, "shortcut", "game", "--dir", dir))
	assert.Contains(t, h.stdout.String(), "Shortcut created")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Error(t, h.run(t, "shortcut", "game", "--dir", dir))
	require.NoError(t, h.run(t, "shortcut", "game", "--dir", dir, "--force"))
	assert.Error(t, h.run(t, "shortcut", "missing", "--dir", dir))
}

func TestRootWithoutArgsShowsHelp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t))
	assert.Contains(t, h.stdout.String(), "affinity")
	assert.Zero(t, h.os.spawns)
}
