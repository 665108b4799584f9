package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loykin/affinity"
	"github.com/loykin/affinity/internal/detector"
	"github.com/loykin/affinity/internal/elevation"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
	"github.com/loykin/affinity/internal/prompt"
	"github.com/loykin/affinity/internal/shortcut"
)

// command binds the CLI to a Launcher and the terminal.
type command struct {
	global *GlobalFlags

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	open       func(g *GlobalFlags) (*affinity.Launcher, error)
	prompter   func() prompt.Prompter
	executable func() (string, error)
}

func newCommand(g *GlobalFlags) *command {
	return &command{
		global: g,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		open: func(g *GlobalFlags) (*affinity.Launcher, error) {
			c, err := affinity.LoadConfig(g.ConfigPath)
			if err != nil {
				return nil, err
			}
			return affinity.New(affinity.Options{Config: c})
		},
		prompter:   func() prompt.Prompter { return prompt.New(os.Stdin, os.Stdout) },
		executable: os.Executable,
	}
}

func (c *command) withLauncher(fn func(l *affinity.Launcher) error) error {
	l, err := c.open(c.global)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()
	return fn(l)
}

// Launch runs a saved profile, or creates one interactively for an unknown
// name. Instances started by an elevation hand-off with a transient file
// launch that instead.
func (c *command) Launch(ctx context.Context, name string, args []string) error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		out := newPrinter(c.stdout)
		req := affinity.Request{Name: name, Args: args, Elevated: c.global.Elevated, Forward: c.global.Forward()}

		if c.global.Transient != "" {
			return c.report(l.LaunchTransient(ctx, c.global.Transient, req))
		}

		_, ok, err := l.Profiles().Get(name)
		if err != nil {
			return c.report(affinity.Result{}, err)
		}
		if ok {
			out.success("Loaded saved profile '%s'", name)
			return c.report(l.Launch(ctx, req))
		}

		answers, err := c.prompter().CreateProfile(ctx, name)
		if err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				err = errdefs.New(errdefs.InvalidProfile, "create profile", err)
			}
			return c.report(affinity.Result{}, err)
		}
		p := answers.Profile(name)
		c.warnOutOfRange(l, p)
		if !answers.Save {
			out.info("Launching without saving profile...")
			req.Profile = &p
		} else if err := l.Profiles().Put(p); err != nil {
			newPrinter(c.stderr).failure("Failed to save profile: %v; launching without saving", err)
			req.Profile = &p
		} else {
			out.success("Profile saved!")
		}
		return c.report(l.Launch(ctx, req))
	})
}

// Exec launches a profile given entirely by flags without saving it.
func (c *command) Exec(ctx context.Context, f ProfileFlags) error {
	p, err := profileFromFlags(f)
	if err != nil {
		return err
	}
	if p.Name == "" {
		p.Name = detector.BaseName(p.Path)
	}
	return c.withLauncher(func(l *affinity.Launcher) error {
		c.warnOutOfRange(l, p)
		return c.report(l.Launch(ctx, affinity.Request{
			Name:     p.Name,
			Profile:  &p,
			Args:     f.Args,
			Elevated: c.global.Elevated,
			Forward:  c.global.Forward(),
		}))
	})
}

// report prints a launch result and converts it into an exitError.
func (c *command) report(res affinity.Result, err error) error {
	code := launchExitCode(res, err)
	if err != nil {
		newPrinter(c.stderr).failure("Error launching program: %v", err)
		return &exitError{code: code, err: err, reported: true}
	}
	out := newPrinter(c.stdout)
	if res.Decision == elevation.HandedOff {
		out.info("Administrator rights are needed for priority %s; the launch continues in the elevated instance.", res.Profile.Priority)
		return nil
	}
	out.outcome(res.Profile, res.Outcome)
	if code != exitOK {
		return &exitError{code: code, err: fmt.Errorf("launch %s", res.Outcome.Status), reported: true}
	}
	return nil
}

func (c *command) warnOutOfRange(l *affinity.Launcher, p profile.Profile) {
	if missing := profile.OutOfRange(p.CPUs, l.HostCores()); len(missing) > 0 {
		newPrinter(c.stderr).warning("This host has %d logical processors; cores %s will be ignored", l.HostCores(), profile.FormatCores(missing))
	}
}

// Add saves a profile given by flags.
func (c *command) Add(f AddFlags) error {
	p, err := profileFromFlags(f.ProfileFlags)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	p.Args = f.Args
	return c.withLauncher(func(l *affinity.Launcher) error {
		if _, exists, err := l.Profiles().Get(p.Name); err != nil {
			return err
		} else if exists && !f.Force {
			return fmt.Errorf("profile '%s' already exists (use --force to overwrite)", p.Name)
		}
		c.warnOutOfRange(l, p)
		if err := l.Profiles().Put(p); err != nil {
			return err
		}
		newPrinter(c.stdout).success("Profile '%s' saved", p.Name)
		return nil
	})
}

func (c *command) List() error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		list, err := l.Profiles().List()
		if err != nil {
			return err
		}
		newPrinter(c.stdout).profiles(list)
		return nil
	})
}

// Show prints one profile as it is stored.
func (c *command) Show(name string) error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		p, ok, err := l.Profiles().Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("profile '%s' not found", name)
		}
		b, err := json.MarshalIndent(map[string]profile.Profile{name: p}, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.stdout, string(b))
		return nil
	})
}

func (c *command) Delete(name string) error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		ok, err := l.Profiles().Delete(name)
		if err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}
		if !ok {
			return fmt.Errorf("profile '%s' not found", name)
		}
		newPrinter(c.stdout).success("Profile '%s' deleted!", name)
		return nil
	})
}

// Shortcut writes a desktop shortcut that launches the profile.
func (c *command) Shortcut(name string, f ShortcutFlags) error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		p, ok, err := l.Profiles().Get(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("profile '%s' not found", name)
		}
		exe, err := c.executable()
		if err != nil {
			return fmt.Errorf("failed to get current executable path: %w", err)
		}
		dir := f.Dir
		if dir == "" {
			if dir, err = shortcut.DesktopDir(); err != nil {
				return err
			}
		}
		path, err := shortcut.NewGenerator(exe).Write(dir, p, f.Force)
		if err != nil {
			return err
		}
		newPrinter(c.stdout).success("Shortcut created: %s", path)
		return nil
	})
}

// History prints recent launches.
func (c *command) History(ctx context.Context, f HistoryFlags) error {
	return c.withLauncher(func(l *affinity.Launcher) error {
		r := l.History()
		if r == nil {
			return errors.New("launch history is disabled or its store cannot be read back")
		}
		events, err := r.Recent(ctx, f.Limit)
		if err != nil {
			return err
		}
		newPrinter(c.stdout).history(events)
		return nil
	})
}

func profileFromFlags(f ProfileFlags) (profile.Profile, error) {
	if strings.TrimSpace(f.Path) == "" {
		return profile.Profile{}, errors.New("--path is required")
	}
	var cpus []int
	if strings.TrimSpace(f.CPUs) != "" {
		var err error
		if cpus, err = profile.ParseCores(f.CPUs); err != nil {
			return profile.Profile{}, fmt.Errorf("--cpus: %w", err)
		}
	}
	prio, err := profile.ParsePriority(f.Priority)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("--priority: %w", err)
	}
	p := profile.Profile{
		Name:          f.Name,
		Path:          f.Path,
		CPUs:          cpus,
		Priority:      prio,
		RetryAttempts: f.Retries,
		Successor:     f.Successor,
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = profile.DefaultRetryAttempts
	}
	if _, err := p.Validate(0); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}
