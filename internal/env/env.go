package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to a launched program.
type Env struct {
	Var Var // overrides applied on top of the base (K->V)
	env Var // base, from the OS environment or empty
}

// New returns an Env whose base is the current process environment when
// fromOS is set, and empty otherwise.
func New(fromOS bool) *Env {
	e := &Env{Var: make(Var), env: make(Var)}
	if fromOS {
		e.FromOS()
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetPair sets a variable from its "K=V" form.
func (e *Env) SetPair(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("env entry %q is not KEY=VALUE", kv)
	}
	e.Set(k, v)
	return nil
}

// LoadFile applies a .env file with KEY=VALUE lines (no export, no quotes).
// Lines starting with # are ignored.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			if k = strings.TrimSpace(k); k != "" {
				e.Set(k, strings.TrimSpace(v))
			}
		}
	}
	return nil
}

// Environ composes base and overrides into a sorted "K=V" list, with ${VAR}
// references expanded against the composed map (no recursion).
func (e *Env) Environ() []string {
	m := make(Var, len(e.env)+len(e.Var))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		name := s[start+2 : start+end]
		b.WriteString(s[:start])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+end+1])
		}
		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String()
}
