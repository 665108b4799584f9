package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/loykin/affinity/internal/profile"
)

// ErrAborted is returned when the user gives up on profile creation.
var ErrAborted = errors.New("profile creation aborted")

// Answers holds what the user entered for a new profile.
type Answers struct {
	Path     string
	CPUs     []int
	Priority profile.Priority
	Save     bool
}

// Profile turns the answers into a profile named name.
func (a Answers) Profile(name string) profile.Profile {
	return profile.Profile{
		Name:          name,
		Path:          a.Path,
		CPUs:          a.CPUs,
		Priority:      a.Priority,
		RetryAttempts: profile.DefaultRetryAttempts,
	}
}

// Prompter asks for the fields of a profile that does not exist yet.
type Prompter interface {
	CreateProfile(ctx context.Context, name string) (Answers, error)
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// New returns a form based prompter when in is a terminal, and a plain line
// prompter otherwise (pipes, CI).
func New(in *os.File, out io.Writer) Prompter {
	if IsTerminal(in) {
		return &FormPrompter{In: in, Out: out}
	}
	return NewLinePrompter(in, out)
}

// LinePrompter reads answers one line at a time.
type LinePrompter struct {
	r *bufio.Reader
	w io.Writer
}

func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), w: w}
}

func (p *LinePrompter) CreateProfile(ctx context.Context, name string) (Answers, error) {
	var a Answers
	_, _ = fmt.Fprintf(p.w, "No saved profile for '%s'. Creating new profile.\n", name)

	path, err := p.ask(ctx, "Enter full program path: ")
	if err != nil {
		return a, err
	}
	a.Path = strings.Trim(path, `"'`)
	if a.Path == "" {
		return a, fmt.Errorf("%w: no program path", ErrAborted)
	}

	for {
		in, err := p.ask(ctx, "Enter CPU cores (comma-separated, e.g., 0,1,2,3): ")
		if err != nil {
			return a, err
		}
		cpus, err := profile.ParseCores(in)
		if err != nil {
			_, _ = fmt.Fprintf(p.w, "Error: %v\n", err)
			continue
		}
		a.CPUs = cpus
		break
	}

	for {
		in, err := p.ask(ctx, fmt.Sprintf("Priority (%s) [normal]: ", priorityChoices()))
		if err != nil {
			return a, err
		}
		if in == "" {
			a.Priority = profile.Normal
			break
		}
		prio, err := profile.ParsePriority(in)
		if err != nil {
			_, _ = fmt.Fprintf(p.w, "Error: %v\n", err)
			continue
		}
		a.Priority = prio
		break
	}

	save, err := p.ask(ctx, "Save this as a profile? (y/n): ")
	if err != nil {
		return a, err
	}
	switch strings.ToLower(save) {
	case "y", "yes":
		a.Save = true
	}
	return a, nil
}

// ask prints question and returns the trimmed answer. End of input before any
// answer aborts.
func (p *LinePrompter) ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_, _ = fmt.Fprint(p.w, question)
	line, err := p.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			return "", fmt.Errorf("%w: end of input", ErrAborted)
		}
	}
	return strings.TrimSpace(line), nil
}

// Pause waits for Enter so a console window opened by a shortcut stays up
// long enough to read the error.
func Pause(r io.Reader, w io.Writer) {
	_, _ = fmt.Fprint(w, "\nPress Enter to exit...")
	_, _ = bufio.NewReader(r).ReadString('\n')
}

func priorityChoices() string {
	ps := profile.Priorities()
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}
