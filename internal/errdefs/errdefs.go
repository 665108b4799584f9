package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies failures of a launch so callers can decide between
// retrying, aborting and reporting.
type Kind int

const (
	KindUnknown Kind = iota
	ExecutableNotFound
	SpawnFailed
	PermissionDenied
	ProcessNotFound
	ToolMissing
	UnsupportedCoreCount
	InvalidProfile
	// System is an OS failure that none of the other kinds describe.
	System
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	ExecutableNotFound:   "executable_not_found",
	SpawnFailed:          "spawn_failed",
	PermissionDenied:     "permission_denied",
	ProcessNotFound:      "process_not_found",
	ToolMissing:          "tool_missing",
	UnsupportedCoreCount: "unsupported_core_count",
	InvalidProfile:       "invalid_profile",
	System:               "system",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind aborts a launch immediately
// instead of being absorbed by the retry loop.
func (k Kind) Fatal() bool {
	switch k {
	case ExecutableNotFound, SpawnFailed, ToolMissing, InvalidProfile:
		return true
	default:
		return false
	}
}

// Error carries a Kind together with the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, errdefs.New(k, "", nil))
// and errors.Is(err, errdefs.ErrProcessNotFound) work on wrapped chains.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a formatted message.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrExecutableNotFound   = &Error{Kind: ExecutableNotFound}
	ErrSpawnFailed          = &Error{Kind: SpawnFailed}
	ErrPermissionDenied     = &Error{Kind: PermissionDenied}
	ErrProcessNotFound      = &Error{Kind: ProcessNotFound}
	ErrToolMissing          = &Error{Kind: ToolMissing}
	ErrUnsupportedCoreCount = &Error{Kind: UnsupportedCoreCount}
	ErrInvalidProfile       = &Error{Kind: InvalidProfile}
)

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err carries a kind that must abort a launch.
func IsFatal(err error) bool { return KindOf(err).Fatal() }
