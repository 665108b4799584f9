package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/affinity/internal/detector"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/platform"
	"github.com/loykin/affinity/internal/profile"
)

const (
	DefaultBackoff = 500 * time.Millisecond
	DefaultSettle  = 150 * time.Millisecond
)

// Options configures a Supervisor. Zero values select the real OS
// implementations and the default timings.
type Options struct {
	Driver    platform.Driver
	Spawner   Spawner
	Table     detector.Table
	Detector  func(*detector.Tracker) detector.Detector
	HostCores int

	Backoff time.Duration
	Settle  time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
	// OnState is called on every state machine transition.
	OnState func(State, platform.Handle)
}

// Supervisor launches a target and brings its affinity and priority to the
// requested values.
type Supervisor struct {
	driver    platform.Driver
	spawner   Spawner
	table     detector.Table
	detector  func(*detector.Tracker) detector.Detector
	hostCores int
	backoff   time.Duration
	settle    time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	log       *slog.Logger
	onState   func(State, platform.Handle)
}

func New(o Options) *Supervisor {
	s := &Supervisor{
		driver:    o.Driver,
		spawner:   o.Spawner,
		table:     o.Table,
		detector:  o.Detector,
		hostCores: o.HostCores,
		backoff:   o.Backoff,
		settle:    o.Settle,
		sleep:     o.Sleep,
		log:       o.Logger,
		onState:   o.OnState,
	}
	if s.driver == nil {
		s.driver = platform.New()
	}
	if s.spawner == nil {
		s.spawner = ExecSpawner{}
	}
	if s.table == nil {
		s.table = detector.SystemTable{}
	}
	if s.detector == nil {
		table := s.table
		s.detector = func(tr *detector.Tracker) detector.Detector { return detector.Default(table, tr) }
	}
	if s.hostCores <= 0 {
		s.hostCores = platform.HostCores()
	}
	if s.backoff <= 0 {
		s.backoff = DefaultBackoff
	}
	if s.settle < 0 {
		s.settle = 0
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run spawns t and applies its affinity and priority, following the target
// across one launcher-to-child handoff per respawn. The returned error is set
// only for unrecoverable failures; recoverable ones end in the Outcome.
func (s *Supervisor) Run(ctx context.Context, t Target) (Outcome, error) {
	started := time.Now()
	out := Outcome{ID: uuid.NewString(), Status: Abandoned, Started: started}
	fail := func(err error) (Outcome, error) {
		out.Err = err
		out.Duration = time.Since(started)
		return out, err
	}

	if t.Attempts <= 0 {
		t.Attempts = profile.DefaultRetryAttempts
	}
	if !t.Priority.Valid() {
		return fail(errdefs.Errorf(errdefs.InvalidProfile, "launch", "invalid priority %d", int(t.Priority)))
	}
	for _, c := range t.Cores {
		if c < 0 {
			return fail(errdefs.Errorf(errdefs.InvalidProfile, "launch", "negative core index %d", c))
		}
	}
	exe, err := ResolveExecutable(t.Path)
	if err != nil {
		return fail(err)
	}
	if err := s.driver.Preflight(t.Cores); err != nil {
		return fail(err)
	}

	since := time.Now()
	h, err := s.spawner.Spawn(ctx, exe, t.Args)
	if err != nil {
		if errdefs.KindOf(err) == errdefs.KindUnknown {
			err = errdefs.New(errdefs.SpawnFailed, "spawn "+exe, err)
		}
		return fail(err)
	}
	s.log.Info("target spawned", "path", exe, "pid", h.PID, "cores", t.Cores, "priority", t.Priority.String())

	succ := t.Successor
	if succ == "" {
		succ = h.Name
	}
	// targets are spawned as session leaders, so their session ID is h.PID
	tracker := detector.NewTracker(s.table)
	m := &machine{
		s:          s,
		t:          t,
		want:       platform.ExistingCores(t.Cores, s.hostCores),
		outOfRange: profile.OutOfRange(t.Cores, s.hostCores),
		active:     h,
		tracker:    tracker,
		detect:     s.detector(tracker),
		query:      detector.Query{Since: since, Name: succ, Session: h.PID},
	}
	m.run(ctx)

	out.Status = m.status
	out.PID = m.active.PID
	out.Name = m.active.Name
	out.Attempts = m.passes
	out.Respawns = m.respawns
	out.AffinityOK = m.affOK
	out.PriorityOK = m.prioOK
	out.Affinity = m.gotCores
	out.Priority = m.gotPrio
	out.Err = m.lastErr
	if len(m.outOfRange) > 0 {
		out.Warnings = m.outOfRange
	}
	out.Duration = time.Since(started)
	if m.fatal != nil {
		out.Err = m.fatal
		return out, m.fatal
	}
	return out, nil
}

// machine holds the state of one Run.
type machine struct {
	s          *Supervisor
	t          Target
	want       []int
	outOfRange []int

	active  platform.Handle
	tracker *detector.Tracker
	detect  detector.Detector
	query   detector.Query

	used        int  // budget consumed
	passes      int  // apply passes performed
	respawns    int  // successors adopted
	freePending bool // next pass does not consume budget

	last     ApplyResult
	affOK    bool
	prioOK   bool
	gotCores []int
	gotPrio  profile.Priority
	lastErr  error
	fatal    error
	status   Status
}

func (m *machine) enter(st State) State {
	m.s.log.Debug("launch state", "state", st.String(), "pid", m.active.PID, "pass", m.passes, "respawns", m.respawns)
	if m.s.onState != nil {
		m.s.onState(st, m.active)
	}
	return st
}

func (m *machine) run(ctx context.Context) {
	st := m.enter(StateSpawned)
	for {
		switch st {
		case StateSpawned, StateRespawned:
			if m.exhausted() {
				st = m.enter(m.giveUp(ctx))
				continue
			}
			m.apply(ctx)
			st = m.next(StateVerifying)

		case StateVerifying:
			if err := m.s.sleep(ctx, m.s.settle); err != nil {
				st = m.cancel(err)
				continue
			}
			if m.verify(ctx) {
				st = m.enter(StateApplied)
				continue
			}
			if m.adoptSuccessor(ctx) {
				st = m.enter(StateRespawned)
				continue
			}
			st = m.enter(StateRetrying)

		case StateRetrying:
			if m.exhausted() || m.permanent() {
				st = m.enter(m.giveUp(ctx))
				continue
			}
			if err := m.s.sleep(ctx, m.s.backoff); err != nil {
				st = m.cancel(err)
				continue
			}
			if m.adoptSuccessor(ctx) {
				st = m.enter(StateRespawned)
				continue
			}
			m.apply(ctx)
			st = m.next(StateVerifying)

		case StateApplied:
			m.status = Applied
			if len(m.outOfRange) > 0 {
				m.status = AppliedWithWarnings
			}
			m.lastErr = nil
			m.s.log.Info("launch applied", "pid", m.active.PID, "passes", m.passes, "respawns", m.respawns)
			return

		case StateAbandoned:
			return
		}
	}
}

// next moves to st unless the last pass hit an unrecoverable error.
func (m *machine) next(st State) State {
	if m.fatal != nil {
		m.status = Abandoned
		return m.enter(StateAbandoned)
	}
	return m.enter(st)
}

func (m *machine) exhausted() bool {
	return !m.freePending && m.used >= m.t.Attempts
}

// permanent reports failures that retrying cannot fix.
func (m *machine) permanent() bool {
	k := errdefs.KindOf(m.lastErr)
	return k == errdefs.UnsupportedCoreCount
}

func (m *machine) cancel(err error) State {
	m.lastErr = fmt.Errorf("launch interrupted: %w", err)
	m.status = Abandoned
	m.s.log.Warn("launch interrupted", "pid", m.active.PID, "error", err)
	return m.enter(StateAbandoned)
}

func (m *machine) giveUp(ctx context.Context) State {
	alive := detector.IsAlive(ctx, m.s.table, m.active)
	affVerified := len(m.t.Cores) > 0 && m.affOK
	if alive && (affVerified || m.prioOK) {
		m.status = PartiallyApplied
		m.s.log.Warn("launch partially applied", "pid", m.active.PID, "affinity", m.affOK, "priority", m.prioOK, "error", m.lastErr)
		return StateAbandoned
	}
	m.status = Abandoned
	m.affOK, m.prioOK = m.affOK && alive, m.prioOK && alive
	m.s.log.Warn("launch abandoned", "pid", m.active.PID, "alive", alive, "kind", errdefs.KindOf(m.lastErr).String(), "error", m.lastErr)
	return StateAbandoned
}

func (m *machine) apply(ctx context.Context) {
	m.passes++
	if m.freePending {
		m.freePending = false
	} else {
		m.used++
	}
	_ = m.tracker.Observe(ctx, m.active.PID)

	var r ApplyResult
	if len(m.t.Cores) == 0 {
		r.AffinityApplied = true
	} else if err := m.s.driver.SetAffinity(m.active, m.t.Cores); err != nil {
		r.AffinityErr = err
	} else {
		r.AffinityApplied = true
	}
	if err := m.s.driver.SetPriority(m.active, m.t.Priority); err != nil {
		r.PriorityErr = err
	} else {
		r.PriorityApplied = true
	}
	m.last = r
	for _, err := range []error{r.AffinityErr, r.PriorityErr} {
		if err != nil && errdefs.IsFatal(err) {
			m.fatal = err
			return
		}
	}
	if err := r.Err(); err != nil {
		m.s.log.Debug("apply failed", "pid", m.active.PID, "pass", m.passes, "kind", errdefs.KindOf(err).String(), "error", err)
	}
}

// verify reads back affinity and priority. A mismatch fails the pass even
// when the driver reported success.
func (m *machine) verify(ctx context.Context) bool {
	h := m.active
	if !detector.IsAlive(ctx, m.s.table, h) {
		// a zombie still answers read-backs
		m.affOK, m.prioOK = false, false
		m.lastErr = m.last.Err()
		if errdefs.KindOf(m.lastErr) != errdefs.ProcessNotFound {
			m.lastErr = errdefs.New(errdefs.ProcessNotFound, "verify "+h.String(), errors.New("process exited"))
		}
		return false
	}
	affErr := m.last.AffinityErr
	if len(m.t.Cores) == 0 {
		m.affOK = true
	} else {
		got, err := m.s.driver.Affinity(h)
		switch {
		case err != nil:
			m.affOK = false
			if affErr == nil {
				affErr = err
			}
		case len(m.want) == 0:
			// nothing requested exists on this host; only the driver can tell
			m.gotCores = got
			m.affOK = affErr == nil
		default:
			m.gotCores = got
			m.affOK = sameSet(got, m.want)
			if !m.affOK && affErr == nil {
				affErr = errdefs.Errorf(errdefs.System, "verify affinity "+h.String(),
					"read back cores %s, want %s", profile.FormatCores(got), profile.FormatCores(profile.SortedCores(m.want)))
			}
		}
	}

	prioErr := m.last.PriorityErr
	got, err := m.s.driver.Priority(h)
	switch {
	case err != nil:
		m.prioOK = false
		if prioErr == nil {
			prioErr = err
		}
	default:
		m.gotPrio = got
		m.prioOK = got == m.t.Priority
		if !m.prioOK && prioErr == nil {
			kind := errdefs.System
			if m.t.Priority.NeedsElevation() {
				// the OS clamps privileged classes instead of failing
				kind = errdefs.PermissionDenied
			}
			prioErr = errdefs.Errorf(kind, "verify priority "+h.String(), "read back %s, want %s", got, m.t.Priority)
		}
	}

	if m.affOK && m.prioOK {
		return true
	}
	m.lastErr = affErr
	if m.affOK || m.lastErr == nil {
		m.lastErr = prioErr
	}
	_ = m.tracker.Observe(ctx, h.PID)
	return false
}

// adoptSuccessor replaces a dead active process with its successor, if any.
func (m *machine) adoptSuccessor(ctx context.Context) bool {
	if detector.IsAlive(ctx, m.s.table, m.active) {
		return false
	}
	q := m.query
	q.Dead = m.active
	c, ok, err := m.detect.Find(ctx, q)
	if err != nil {
		m.s.log.Debug("successor detection failed", "pid", m.active.PID, "error", err)
	}
	if !ok {
		if m.lastErr == nil || errdefs.KindOf(m.lastErr) != errdefs.ProcessNotFound {
			m.lastErr = errdefs.New(errdefs.ProcessNotFound, "launch", errors.New(m.active.String()+" exited"))
		}
		return false
	}
	m.tracker.Forget(c.PID)
	m.s.log.Info("target respawned", "from", m.active.PID, "to", c.PID, "name", c.Name)
	m.active = c.Handle()
	m.respawns++
	if m.respawns == 1 {
		m.freePending = true
	}
	m.affOK, m.prioOK = false, false
	return true
}

func sameSet(got, want []int) bool {
	a := profile.SortedCores(got)
	b := profile.SortedCores(profile.NormalizeCores(want))
	return slices.Equal(a, b)
}
