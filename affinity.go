package affinity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/affinity/internal/config"
	"github.com/loykin/affinity/internal/elevation"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/history"
	"github.com/loykin/affinity/internal/history/factory"
	"github.com/loykin/affinity/internal/metrics"
	"github.com/loykin/affinity/internal/platform"
	"github.com/loykin/affinity/internal/profile"
	"github.com/loykin/affinity/internal/supervisor"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Profile = profile.Profile

type Priority = profile.Priority

const (
	Idle        = profile.Idle
	BelowNormal = profile.BelowNormal
	Normal      = profile.Normal
	AboveNormal = profile.AboveNormal
	High        = profile.High
	Realtime    = profile.Realtime
)

type Outcome = supervisor.Outcome

type Status = supervisor.Status

type Decision = elevation.Decision

type HistoryEvent = history.Event

// ErrProfileNotFound is returned by Launch for an unknown profile name.
var ErrProfileNotFound = errors.New("profile not found")

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
	registryErr  error
)

// Registry returns the registry holding the launch metrics, registering them
// on first use. It is separate from the default registry so that textfile
// exports contain launch metrics only.
func Registry() (*prometheus.Registry, error) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registryErr = metrics.Register(registry)
	})
	return registry, registryErr
}

// Options configures a Launcher. Only Config is required.
type Options struct {
	Config *Config
	// Console receives log output; nil means stderr.
	Console io.Writer
	// Privileges overrides the OS privilege model.
	Privileges elevation.Privileges
	// Supervisor overrides supervisor collaborators; Logger, OnState and the
	// spawner environment are filled in by the Launcher.
	Supervisor supervisor.Options
}

// Launcher runs launches with the configured profile store, logging, history
// and metrics.
type Launcher struct {
	cfg      *Config
	log      *slog.Logger
	store    *profile.Store
	neg      *elevation.Negotiator
	supOpts  supervisor.Options
	sink     history.Sink
	registry *prometheus.Registry
	closers  []io.Closer
}

func New(o Options) (*Launcher, error) {
	if o.Config == nil {
		return nil, errors.New("affinity: nil config")
	}
	console := o.Console
	if console == nil {
		console = os.Stderr
	}
	log, logCloser := o.Config.Logger().NewSlogger(console)

	l := &Launcher{
		cfg:     o.Config,
		log:     log,
		store:   profile.NewStore(o.Config.ProfilesFile),
		supOpts: o.Supervisor,
		closers: []io.Closer{logCloser},
	}
	l.neg = elevation.New(o.Privileges, filepath.Dir(o.Config.ProfilesFile), log.With("component", "elevation"))

	if l.supOpts.Spawner == nil {
		envList, err := o.Config.LaunchEnv()
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.supOpts.Spawner = supervisor.ExecSpawner{Env: envList}
	}
	if l.supOpts.Backoff <= 0 {
		l.supOpts.Backoff = o.Config.Supervisor.Backoff
	}
	if l.supOpts.Settle <= 0 {
		l.supOpts.Settle = o.Config.Supervisor.Settle
	}

	reg, err := Registry()
	if err != nil {
		log.Warn("metrics unavailable", "error", err)
	} else {
		l.registry = reg
	}

	if o.Config.History.Enabled && strings.TrimSpace(o.Config.History.DSN) != "" {
		sink, err := openHistory(o.Config.History.DSN)
		if err != nil {
			// history is best effort; a launch never fails because of it
			log.Warn("launch history disabled", "dsn", o.Config.History.DSN, "error", err)
		} else {
			l.sink = sink
			if c, ok := sink.(io.Closer); ok {
				l.closers = append(l.closers, c)
			}
		}
	}
	return l, nil
}

func openHistory(dsn string) (history.Sink, error) {
	if !strings.Contains(dsn, "://") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, err
		}
	}
	return factory.NewSinkFromDSN(dsn)
}

// Close releases the history sink and the log file.
func (l *Launcher) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

func (l *Launcher) Logger() *slog.Logger { return l.log }

func (l *Launcher) Profiles() *profile.Store { return l.store }

func (l *Launcher) Config() *Config { return l.cfg }

// History returns the history reader, or nil when the configured sink cannot
// be read back.
func (l *Launcher) History() history.Reader {
	r, _ := l.sink.(history.Reader)
	return r
}

// HostCores reports the number of logical processors the supervisor works with.
func (l *Launcher) HostCores() int {
	if l.supOpts.HostCores > 0 {
		return l.supOpts.HostCores
	}
	return platform.HostCores()
}

// Request describes one launch.
type Request struct {
	// Name selects a saved profile. When Profile is set it is the name shown
	// in logs and metrics only.
	Name    string
	Profile *Profile
	Args    []string

	// Elevated marks an instance started by an elevation hand-off.
	Elevated bool
	// Forward lists flags an elevated instance must receive again.
	Forward []string
}

// Result is what a launch ended with. Outcome is empty when the launch was
// handed off to an elevated instance.
type Result struct {
	Decision Decision
	Profile  Profile // the profile that was launched
	Outcome  Outcome
}

// Launch resolves the profile, negotiates elevation and runs the supervisor.
// The error is set for unrecoverable failures only.
func (l *Launcher) Launch(ctx context.Context, req Request) (Result, error) {
	p, saved, err := l.resolve(req)
	if err != nil {
		return Result{}, err
	}

	ereq := elevation.Request{
		Args:     req.Args,
		Priority: p.Priority,
		Marked:   req.Elevated,
		Forward:  req.Forward,
	}
	if saved {
		ereq.Profile = p.Name
	} else {
		ereq.Unsaved = p
	}
	decision, err := l.neg.Negotiate(ctx, ereq)
	metrics.RecordElevation(decision.String())
	res := Result{Decision: decision, Profile: p}
	if err != nil {
		return res, err
	}
	if decision == elevation.HandedOff {
		l.log.Info("launch handed off to elevated instance", "profile", p.Name)
		return res, nil
	}

	res.Outcome, err = l.supervisor().Run(ctx, supervisor.TargetFromProfile(p, req.Args))
	l.record(ctx, p, res.Outcome, err)
	return res, err
}

// LaunchTransient launches the profile stored in a transient file written by
// an unprivileged instance, and removes the file afterwards.
func (l *Launcher) LaunchTransient(ctx context.Context, path string, req Request) (Result, error) {
	p, args, release, err := profile.OpenTransient(path)
	defer release()
	if err != nil {
		return Result{}, err
	}
	req.Profile = &p
	req.Args = append(args, req.Args...)
	return l.Launch(ctx, req)
}

func (l *Launcher) resolve(req Request) (profile.Profile, bool, error) {
	if req.Profile != nil {
		p := *req.Profile
		if p.Name == "" {
			p.Name = req.Name
		}
		if p.RetryAttempts == 0 {
			p.RetryAttempts = profile.DefaultRetryAttempts
		}
		if _, err := p.Validate(0); err != nil {
			return p, false, err
		}
		return p, false, nil
	}
	p, ok, err := l.store.Get(req.Name)
	if err != nil {
		return p, true, err
	}
	if !ok {
		return p, true, fmt.Errorf("%w: %q", ErrProfileNotFound, req.Name)
	}
	if _, err := p.Validate(0); err != nil {
		return p, true, err
	}
	return p, true, nil
}

func (l *Launcher) supervisor() *supervisor.Supervisor {
	o := l.supOpts
	o.Logger = l.log.With("component", "supervisor")
	var (
		prev    supervisor.State
		started bool
	)
	o.OnState = func(st supervisor.State, _ platform.Handle) {
		if started {
			metrics.RecordStateTransition(prev.String(), st.String())
		}
		prev, started = st, true
	}
	return supervisor.New(o)
}

// record exports a finished launch. Failures are logged, never returned.
func (l *Launcher) record(ctx context.Context, p profile.Profile, out supervisor.Outcome, runErr error) {
	kind := ""
	if out.Err != nil {
		kind = errdefs.KindOf(out.Err).String()
	}
	status := out.Status.String()
	metrics.RecordLaunch(metrics.Launch{
		Profile:   p.Name,
		Status:    status,
		ErrKind:   kind,
		Passes:    out.Attempts,
		Respawns:  out.Respawns,
		Seconds:   out.Duration.Seconds(),
		Timestamp: float64(out.Started.Unix()),
	})
	if runErr == nil && out.Status != supervisor.Abandoned && out.PID > 0 {
		if s, err := metrics.SampleTarget(ctx, out.PID); err == nil {
			metrics.RecordTarget(p.Name, s)
		} else {
			l.log.Debug("target sample failed", "pid", out.PID, "error", err)
		}
	}

	if l.sink != nil {
		e := history.Event{
			ID:         out.ID,
			OccurredAt: time.Now().UTC(),
			Profile:    p.Name,
			Path:       p.Path,
			PID:        out.PID,
			Name:       out.Name,
			Status:     status,
			Attempts:   out.Attempts,
			Respawns:   out.Respawns,
			Cores:      profile.FormatCores(p.CPUs),
			Priority:   p.Priority.String(),
			ErrKind:    kind,
			Duration:   out.Duration,
		}
		if out.Err != nil {
			e.Error = out.Err.Error()
		}
		// the launch context may already be cancelled
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := l.sink.Send(sctx, e); err != nil {
			l.log.Warn("failed to record launch history", "error", err)
		}
		cancel()
	}

	if path := l.cfg.Metrics.Textfile; path != "" && l.registry != nil {
		if err := metrics.WriteTextfile(path, l.registry); err != nil {
			l.log.Warn("failed to write metrics textfile", "path", path, "error", err)
		}
	}
}
