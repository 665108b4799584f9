package shortcut

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"

	"github.com/loykin/affinity/internal/profile"
)

// Type is the kind of shortcut file to generate.
type Type string

const (
	TypeBatch   Type = "bat"     // Windows batch file
	TypeDesktop Type = "desktop" // freedesktop.org desktop entry
)

// ForOS returns the shortcut type used on goos.
func ForOS(goos string) (Type, error) {
	switch goos {
	case "windows":
		return TypeBatch, nil
	case "linux":
		return TypeDesktop, nil
	}
	return "", fmt.Errorf("desktop shortcuts are not supported on %s", goos)
}

// File is a rendered shortcut.
type File struct {
	Name    string // base name, e.g. game.desktop
	Content []byte
	Mode    os.FileMode
}

// Generator renders shortcuts that re-invoke the tool with a profile name.
type Generator struct {
	// Exe is the absolute path of the tool itself.
	Exe string
}

func NewGenerator(exe string) *Generator {
	return &Generator{Exe: exe}
}

// Generate renders the shortcut of type t for p.
func (g *Generator) Generate(t Type, p profile.Profile) (File, error) {
	if err := checkName(p.Name); err != nil {
		return File{}, err
	}
	switch t {
	case TypeBatch:
		return g.batch(p), nil
	case TypeDesktop:
		return g.desktop(p), nil
	default:
		return File{}, fmt.Errorf("unknown shortcut type: %s (supported: bat, desktop)", t)
	}
}

// batch re-invokes the tool with --pause so errors stay readable. Priorities
// that need administrator rights go through an elevated Start-Process so the
// UAC prompt appears at click time.
func (g *Generator) batch(p profile.Profile) File {
	var b strings.Builder
	b.WriteString("@echo off\r\n")
	if p.Priority.NeedsElevation() {
		fmt.Fprintf(&b, "powershell -NoProfile -Command \"Start-Process -FilePath '%s' -ArgumentList '--pause','%s' -Verb RunAs\"\r\n",
			psQuote(g.Exe), psQuote(p.Name))
	} else {
		fmt.Fprintf(&b, "\"%s\" --pause \"%s\"\r\n", g.Exe, p.Name)
	}
	return File{Name: p.Name + ".bat", Content: []byte(b.String()), Mode: 0o644}
}

func (g *Generator) desktop(p profile.Profile) File {
	exec := fmt.Sprintf("%q --pause %q", g.Exe, p.Name)
	if p.Priority.NeedsElevation() {
		exec = "pkexec " + exec
	}
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Version=1.0\n")
	fmt.Fprintf(&b, "Name=%s\n", p.Name)
	fmt.Fprintf(&b, "Comment=Launch %s with CPU affinity\n", p.Path)
	fmt.Fprintf(&b, "Exec=%s\n", exec)
	b.WriteString("Terminal=false\n")
	b.WriteString("Type=Application\n")
	return File{Name: p.Name + ".desktop", Content: []byte(b.String()), Mode: 0o755}
}

// Write renders the shortcut for the current OS into dir and returns its path.
// An existing file is replaced only when force is set.
func (g *Generator) Write(dir string, p profile.Profile, force bool) (string, error) {
	t, err := ForOS(runtime.GOOS)
	if err != nil {
		return "", err
	}
	f, err := g.Generate(t, p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create shortcut directory: %w", err)
	}
	path := filepath.Join(dir, f.Name)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("shortcut '%s' already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, f.Content, f.Mode); err != nil {
		return "", fmt.Errorf("failed to write shortcut file: %w", err)
	}
	// WriteFile keeps the mode of an existing file and applies umask
	if err := os.Chmod(path, f.Mode); err != nil {
		return "", fmt.Errorf("failed to set shortcut permissions: %w", err)
	}
	return path, nil
}

// DesktopDir returns XDG_DESKTOP_DIR when set, else ~/Desktop.
func DesktopDir() (string, error) {
	if d := strings.TrimSpace(os.Getenv("XDG_DESKTOP_DIR")); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find Desktop directory: %w", err)
	}
	return filepath.Join(home, "Desktop"), nil
}

// checkName accepts letters, digits, '.', '_' and '-' (not leading). The name
// ends up in a file name and on a shell or cmd.exe command line.
func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("shortcut needs a profile name")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("profile name %q cannot be used in a shortcut", name)
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			continue
		}
		return fmt.Errorf("profile name %q cannot be used in a shortcut: character %q is not allowed", name, r)
	}
	return nil
}

func psQuote(s string) string { return strings.ReplaceAll(s, "'", "''") }
