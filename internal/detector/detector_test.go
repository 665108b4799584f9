package detector

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinity/internal/platform"
)

type fakeTable struct {
	procs []Candidate
	dead  map[int]bool
	err   error
}

func (f *fakeTable) Processes(context.Context) ([]Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]Candidate(nil), f.procs...), nil
}

func (f *fakeTable) Alive(_ context.Context, pid int) bool {
	if f.dead[pid] {
		return false
	}
	for _, c := range f.procs {
		if c.PID == pid {
			return true
		}
	}
	return false
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerRecordsDirectChildren(t *testing.T) {
	tbl := &fakeTable{procs: []Candidate{
		{PID: 100, Parent: 1, Name: "launcher"},
		{PID: 101, Parent: 100, Name: "game"},
		{PID: 102, Parent: 101, Name: "grandchild"},
		{PID: 103, Parent: 100, Name: "helper"},
	}}
	tr := NewTracker(tbl)
	require.NoError(t, tr.Observe(context.Background(), 100))

	pids := map[int]bool{}
	for _, c := range tr.Recorded() {
		pids[c.PID] = true
	}
	assert.Equal(t, map[int]bool{101: true, 103: true}, pids)

	tr.Forget(103)
	assert.Len(t, tr.Recorded(), 1)
}

func TestTrackerObserveError(t *testing.T) {
	tr := NewTracker(&fakeTable{err: errors.New("boom")})
	assert.Error(t, tr.Observe(context.Background(), 1))
}

func TestDescendantDetectorPicksNewestAliveChild(t *testing.T) {
	tbl := &fakeTable{procs: []Candidate{
		{PID: 101, Parent: 100, Name: "old", Created: t0.Add(1 * time.Second)},
		{PID: 102, Parent: 100, Name: "new", Created: t0.Add(3 * time.Second)},
		{PID: 103, Parent: 100, Name: "gone", Created: t0.Add(5 * time.Second)},
	}}
	tr := NewTracker(tbl)
	require.NoError(t, tr.Observe(context.Background(), 100))
	tbl.dead = map[int]bool{103: true}

	d := DescendantDetector{Tracker: tr}
	c, ok, err := d.Find(context.Background(), Query{Dead: platform.Handle{PID: 100}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 102, c.PID)
}

func TestDescendantDetectorTieBreaksOnLowestPID(t *testing.T) {
	tbl := &fakeTable{procs: []Candidate{
		{PID: 205, Parent: 200, Created: t0},
		{PID: 203, Parent: 200, Created: t0},
	}}
	tr := NewTracker(tbl)
	require.NoError(t, tr.Observe(context.Background(), 200))

	c, ok, _ := DescendantDetector{Tracker: tr}.Find(context.Background(), Query{Dead: platform.Handle{PID: 200}})
	require.True(t, ok)
	assert.Equal(t, 203, c.PID)
}

func TestDescendantDetectorNothingRecorded(t *testing.T) {
	tr := NewTracker(&fakeTable{})
	_, ok, err := DescendantDetector{Tracker: tr}.Find(context.Background(), Query{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNameDetector(t *testing.T) {
	tbl := &fakeTable{procs: []Candidate{
		{PID: 10, Name: "game", Created: t0.Add(-time.Hour)},       // older instance
		{PID: 11, Name: "game", Created: t0.Add(2 * time.Second)},  // successor
		{PID: 12, Name: "other", Created: t0.Add(4 * time.Second)}, // wrong name
		{PID: 13, Name: "game", Created: t0.Add(3 * time.Second)},  // the dead target
		{PID: 14, Name: "game", Created: t0.Add(time.Second)},
		{PID: 99, Name: "game", Created: t0.Add(9 * time.Second)}, // the tool itself
	}}
	d := NameDetector{Table: tbl, Self: 99}
	q := Query{Dead: platform.Handle{PID: 13, Name: "launcher"}, Since: t0, Name: "game"}

	c, ok, err := d.Find(context.Background(), q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11, c.PID)
}

func TestNameDetectorFallsBackToTargetName(t *testing.T) {
	tbl := &fakeTable{procs: []Candidate{
		{PID: 21, Name: "Game.EXE", Created: t0.Add(time.Second)},
	}}
	d := NameDetector{Table: tbl, Self: 1}
	q := Query{Dead: platform.Handle{PID: 20, Name: "game.exe"}, Since: t0}

	c, ok, err := d.Find(context.Background(), q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, c.PID)

	_, ok, _ = d.Find(context.Background(), Query{Dead: platform.Handle{PID: 20}, Since: t0})
	assert.False(t, ok, "no name to match")
}

func TestNameDetectorSkipsUnknownCreateTimeAndDead(t *testing.T) {
	tbl := &fakeTable{
		procs: []Candidate{
			{PID: 31, Name: "game"},
			{PID: 32, Name: "game", Created: t0.Add(time.Second)},
		},
		dead: map[int]bool{32: true},
	}
	_, ok, err := NameDetector{Table: tbl, Self: 1}.Find(context.Background(), Query{Since: t0, Name: "game"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionDetector(t *testing.T) {
	tbl := &fakeTable{
		procs: []Candidate{
			{PID: 20, Session: 20, Name: "launcher", Created: t0}, // the dead target
			{PID: 21, Session: 20, Name: "helper", Created: t0.Add(3 * time.Second)},
			{PID: 22, Session: 20, Name: "game", Created: t0.Add(time.Second)},
			{PID: 23, Session: 7, Name: "game", Created: t0.Add(5 * time.Second)}, // another session
			{PID: 24, Session: 20, Name: "game", Created: t0.Add(4 * time.Second)},
		},
		dead: map[int]bool{24: true},
	}
	d := SessionDetector{Table: tbl, Self: 99}
	dead := platform.Handle{PID: 20, Name: "launcher"}

	c, ok, err := d.Find(context.Background(), Query{Dead: dead, Session: 20, Name: "game"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 22, c.PID, "a live member with the expected name wins")

	c, ok, err = d.Find(context.Background(), Query{Dead: dead, Session: 20, Name: "launcher"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, c.PID, "without a name match the newest live member wins")

	_, ok, err = d.Find(context.Background(), Query{Dead: dead, Name: "game"})
	require.NoError(t, err)
	assert.False(t, ok, "no session given")

	_, ok, err = d.Find(context.Background(), Query{Dead: dead, Session: 30})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionDetectorListError(t *testing.T) {
	d := SessionDetector{Table: &fakeTable{err: errors.New("boom")}}
	_, _, err := d.Find(context.Background(), Query{Session: 5})
	assert.ErrorContains(t, err, "boom")
}

func TestDefaultChainOrder(t *testing.T) {
	tbl := &fakeTable{}
	assert.Equal(t, "children+session+name", Default(tbl, NewTracker(tbl)).Describe())
}

type stubDetector struct {
	c    Candidate
	ok   bool
	err  error
	name string
}

func (s stubDetector) Find(context.Context, Query) (Candidate, bool, error) { return s.c, s.ok, s.err }
func (s stubDetector) Describe() string                                     { return s.name }

func TestChain(t *testing.T) {
	ch := Chain{
		stubDetector{name: "a", err: errors.New("broken")},
		stubDetector{name: "b"},
		stubDetector{name: "c", ok: true, c: Candidate{PID: 7}},
	}
	c, ok, err := ch.Find(context.Background(), Query{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, c.PID)
	assert.Equal(t, "a+b+c", ch.Describe())

	_, ok, err = Chain{stubDetector{name: "a", err: errors.New("broken")}}.Find(context.Background(), Query{})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "a: broken")
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "game", BaseName("/opt/games/game"))
	assert.Equal(t, "Game.exe", BaseName(`C:\Games\Game.exe`))
	assert.Equal(t, "sleep", BaseName("sleep"))
}

func TestIsAlive(t *testing.T) {
	ctx := context.Background()
	tbl := &fakeTable{procs: []Candidate{{PID: 50}}}

	assert.True(t, IsAlive(ctx, tbl, platform.Handle{PID: 50}))
	assert.False(t, IsAlive(ctx, tbl, platform.Handle{PID: 51}))
	assert.False(t, IsAlive(ctx, tbl, platform.Handle{}))

	done := make(chan struct{})
	close(done)
	assert.False(t, IsAlive(ctx, tbl, platform.NewHandle(50, "", time.Time{}, done)), "reaped child")
}

func TestSystemTable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	ctx := context.Background()
	var tbl SystemTable
	assert.True(t, tbl.Alive(ctx, cmd.Process.Pid))
	assert.False(t, tbl.Alive(ctx, 0))

	tr := NewTracker(tbl)
	require.NoError(t, tr.Observe(ctx, os.Getpid()))
	var found bool
	for _, c := range tr.Recorded() {
		if c.PID == cmd.Process.Pid {
			found = true
			assert.Equal(t, "sleep", c.Name)
		}
	}
	assert.True(t, found, "sleep should be recorded as a child of the test binary")

	h := platform.NewHandle(cmd.Process.Pid, "sleep", platform.StartTime(cmd.Process.Pid), nil)
	assert.True(t, IsAlive(ctx, tbl, h))

	if runtime.GOOS == "linux" {
		procs, err := tbl.Processes(ctx)
		require.NoError(t, err)
		for _, c := range procs {
			if c.PID == cmd.Process.Pid {
				assert.Equal(t, platform.SessionID(os.Getpid()), c.Session, "children share the test's session")
			}
		}
	}
}
