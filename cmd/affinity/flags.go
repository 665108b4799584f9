package main

// GlobalFlags holds flags understood by every command.
type GlobalFlags struct {
	ConfigPath string
	Pause      bool

	// set only on instances started by an elevation hand-off
	Elevated  bool
	Transient string
}

// Forward returns the flags an elevated instance must be started with again.
func (g *GlobalFlags) Forward() []string {
	var out []string
	if g.ConfigPath != "" {
		out = append(out, "--config", g.ConfigPath)
	}
	if g.Pause {
		out = append(out, "--pause")
	}
	return out
}

// ProfileFlags describe a profile on the command line.
type ProfileFlags struct {
	Name      string
	Path      string
	CPUs      string
	Priority  string
	Retries   int
	Successor string
	Args      []string
}

// AddFlags holds flags for the add command.
type AddFlags struct {
	ProfileFlags
	Force bool
}

// ShortcutFlags holds flags for the shortcut command.
type ShortcutFlags struct {
	Dir   string
	Force bool
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
}
