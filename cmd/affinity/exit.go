package main

import (
	"errors"

	"github.com/loykin/affinity"
	"github.com/loykin/affinity/internal/elevation"
	"github.com/loykin/affinity/internal/supervisor"
)

const (
	exitOK      = 0
	exitFatal   = 1 // also usage and internal errors
	exitPartial = 2
	exitAbandon = 3
)

// exitError carries a process exit code. Reported errors were already shown
// to the user and are not printed again.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status"
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// launchExitCode maps a launch result to the process exit code.
func launchExitCode(res affinity.Result, err error) int {
	if err != nil {
		return exitFatal
	}
	if res.Decision == elevation.HandedOff {
		return exitOK
	}
	switch res.Outcome.Status {
	case supervisor.Applied, supervisor.AppliedWithWarnings:
		return exitOK
	case supervisor.PartiallyApplied:
		return exitPartial
	default:
		return exitAbandon
	}
}

// exitCode returns the code for an error returned by the command tree.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func isReported(err error) bool {
	var ee *exitError
	return errors.As(err, &ee) && ee.reported
}
