package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/loykin/affinity/internal/profile"
)

// FormPrompter collects the answers with a terminal form.
type FormPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *FormPrompter) CreateProfile(ctx context.Context, name string) (Answers, error) {
	var (
		a     Answers
		path  string
		cores string
		prio  = profile.Normal
		save  = true
	)

	opts := make([]huh.Option[profile.Priority], 0, len(profile.Priorities()))
	for _, pr := range profile.Priorities() {
		label := pr.String()
		if pr.NeedsElevation() {
			label += " (administrator)"
		}
		opts = append(opts, huh.NewOption(label, pr))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("New profile '%s'", name)).
				Description("No saved profile matches this name."),
			huh.NewInput().
				Title("Program path").
				Value(&path).
				Validate(func(s string) error {
					if strings.Trim(strings.TrimSpace(s), `"'`) == "" {
						return errors.New("a program path is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("CPU cores").
				Description("comma-separated, ranges allowed, e.g. 0,2,4-7").
				Value(&cores).
				Validate(func(s string) error {
					_, err := profile.ParseCores(s)
					return err
				}),
			huh.NewSelect[profile.Priority]().
				Title("Priority").
				Options(opts...).
				Value(&prio),
			huh.NewConfirm().
				Title("Save this as a profile?").
				Affirmative("Save").
				Negative("Just launch").
				Value(&save),
		),
	)
	if p.In != nil {
		form = form.WithInput(p.In)
	}
	if p.Out != nil {
		form = form.WithOutput(p.Out)
	}

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return a, ErrAborted
		}
		return a, err
	}

	cpus, err := profile.ParseCores(cores)
	if err != nil {
		return a, err
	}
	a.Path = strings.Trim(strings.TrimSpace(path), `"'`)
	a.CPUs = cpus
	a.Priority = prio
	a.Save = save
	return a, nil
}
