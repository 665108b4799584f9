package main

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/loykin/affinity"
	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/history"
	"github.com/loykin/affinity/internal/platform"
	"github.com/loykin/affinity/internal/profile"
	"github.com/loykin/affinity/internal/supervisor"
)

var (
	colorSuccess = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5F7A84")
)

// styles are bound to the writer they render for, so piped output carries no
// escape sequences.
type styles struct {
	ok, warn, err, muted, bold lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(colorSuccess),
		warn:  r.NewStyle().Foreground(colorWarning),
		err:   r.NewStyle().Foreground(colorError),
		muted: r.NewStyle().Foreground(colorMuted),
		bold:  r.NewStyle().Bold(true),
	}
}

type printer struct {
	w io.Writer
	s styles
}

func newPrinter(w io.Writer) printer { return printer{w: w, s: newStyles(w)} }

func (p printer) success(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "%s %s\n", p.s.ok.Render("✓"), fmt.Sprintf(format, args...))
}

func (p printer) warning(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "%s %s\n", p.s.warn.Render("⚠"), fmt.Sprintf(format, args...))
}

func (p printer) failure(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "%s %s\n", p.s.err.Render("✗"), fmt.Sprintf(format, args...))
}

func (p printer) info(format string, args ...any) {
	_, _ = fmt.Fprintf(p.w, "%s\n", fmt.Sprintf(format, args...))
}

func (p printer) field(name, value string) {
	_, _ = fmt.Fprintf(p.w, "  %s %s\n", p.s.muted.Render(fmt.Sprintf("%-10s", name+":")), value)
}

// maskText renders a core set as "0x5 (0,2)". Sets that do not fit a 64-bit
// mask are shown as the list only.
func maskText(cores []int) string {
	if len(cores) == 0 {
		return "all cores"
	}
	list := profile.FormatCores(profile.SortedCores(cores))
	m, err := platform.BuildMask(cores)
	if err != nil {
		return list
	}
	return fmt.Sprintf("%s (%s)", platform.FormatMask(m), list)
}

// outcome prints the launch result, including requested and actual affinity.
func (p printer) outcome(prof profile.Profile, out affinity.Outcome) {
	switch out.Status {
	case supervisor.Applied:
		p.success("Launch applied to %s", targetText(out))
	case supervisor.AppliedWithWarnings:
		p.success("Launch applied to %s", targetText(out))
		p.warning("Cores not present on this host were ignored: %s", profile.FormatCores(out.Warnings))
	case supervisor.PartiallyApplied:
		p.warning("Launch partially applied to %s: %s not confirmed", targetText(out), strings.Join(out.Failed(), " and "))
	default:
		p.failure("Launch abandoned: %v", out.Err)
	}
	if errdefs.KindOf(out.Err) == errdefs.PermissionDenied {
		p.warning("%s", elevationHint(runtime.GOOS, prof.Priority))
	}
	if out.Status == supervisor.Abandoned && out.PID == 0 {
		return
	}
	if len(prof.CPUs) > 0 {
		p.field("requested", maskText(prof.CPUs))
		p.field("actual", maskText(out.Affinity))
	}
	p.field("priority", fmt.Sprintf("%s (requested %s)", out.Priority, prof.Priority))
	p.field("attempts", strconv.Itoa(out.Attempts))
	if out.Respawns > 0 {
		p.field("respawns", strconv.Itoa(out.Respawns))
	}
	if out.Status == supervisor.PartiallyApplied && out.Err != nil {
		p.field("reason", out.Err.Error())
	}
	if out.Status != supervisor.Abandoned {
		p.info("\nProgram is running independently.")
	}
}

// elevationHint suggests how to get the rights a setting was denied for.
func elevationHint(goos string, prio profile.Priority) string {
	if goos == "windows" {
		return fmt.Sprintf("Priority %s needs administrator rights: run affinity as administrator.", prio)
	}
	return fmt.Sprintf("Priority %s needs root privileges: run affinity with sudo.", prio)
}

func targetText(out affinity.Outcome) string {
	if out.Name == "" {
		return fmt.Sprintf("PID %d", out.PID)
	}
	return fmt.Sprintf("%s (PID %d)", out.Name, out.PID)
}

func (p printer) profiles(list []profile.Profile) {
	if len(list) == 0 {
		p.info("No saved profiles.")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.s.muted).
		Headers("PROFILE", "CORES", "PRIORITY", "RETRIES", "PATH")
	for _, pr := range list {
		t.Row(pr.Name, profile.FormatCores(pr.CPUs), pr.Priority.String(), strconv.Itoa(pr.RetryAttempts), pr.Path)
	}
	_, _ = fmt.Fprintln(p.w, t.Render())
}

func (p printer) history(events []history.Event) {
	if len(events) == 0 {
		p.info("No launches recorded.")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.s.muted).
		Headers("WHEN", "PROFILE", "STATUS", "PID", "ATTEMPTS", "DURATION", "ERROR")
	for _, e := range events {
		t.Row(
			e.OccurredAt.Local().Format(time.DateTime),
			e.Profile,
			e.Status,
			strconv.Itoa(e.PID),
			strconv.Itoa(e.Attempts),
			e.Duration.Round(time.Millisecond).String(),
			e.ErrKind,
		)
	}
	_, _ = fmt.Fprintln(p.w, t.Render())
}
