package profile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/affinity/internal/errdefs"
)

// DefaultRetryAttempts is used when a profile does not set retry_attempts.
const DefaultRetryAttempts = 5

// Profile is a saved launch configuration. Name is the key in the store and is
// not part of the JSON value.
type Profile struct {
	Name          string   `json:"-"`
	Path          string   `json:"path"`
	CPUs          []int    `json:"cpus"`
	Priority      Priority `json:"priority"`
	RetryAttempts int      `json:"retry_attempts"`
	Successor     string   `json:"successor,omitempty"` // executable base name of the expected child process
	Args          []string `json:"args,omitempty"`      // prepended to runtime arguments
}

// rawProfile distinguishes absent optional fields from zero values.
type rawProfile struct {
	Path          *string   `json:"path"`
	CPUs          *[]int    `json:"cpus"`
	Priority      *Priority `json:"priority"`
	RetryAttempts *int      `json:"retry_attempts"`
	Successor     string    `json:"successor"`
	Args          []string  `json:"args"`
}

func (p *Profile) UnmarshalJSON(b []byte) error {
	var raw rawProfile
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Path == nil {
		return fmt.Errorf("missing required field %q", "path")
	}
	if raw.CPUs == nil {
		return fmt.Errorf("missing required field %q", "cpus")
	}
	out := Profile{
		Name:          p.Name,
		Path:          *raw.Path,
		CPUs:          NormalizeCores(*raw.CPUs),
		Priority:      Normal,
		RetryAttempts: DefaultRetryAttempts,
		Successor:     raw.Successor,
		Args:          raw.Args,
	}
	if raw.Priority != nil {
		out.Priority = *raw.Priority
	}
	if raw.RetryAttempts != nil {
		out.RetryAttempts = *raw.RetryAttempts
	}
	*p = out
	return nil
}

// Validate checks the profile's fields. Cores at or above hostCores are not an
// error; they are returned so callers can warn about them. hostCores <= 0
// disables that check.
func (p Profile) Validate(hostCores int) ([]int, error) {
	op := "validate profile"
	if p.Name != "" {
		op = fmt.Sprintf("validate profile %q", p.Name)
	}
	if strings.TrimSpace(p.Path) == "" {
		return nil, errdefs.Errorf(errdefs.InvalidProfile, op, "path is required")
	}
	if !p.Priority.Valid() {
		return nil, errdefs.Errorf(errdefs.InvalidProfile, op, "invalid priority %d", int(p.Priority))
	}
	if p.RetryAttempts < 1 {
		return nil, errdefs.Errorf(errdefs.InvalidProfile, op, "retry_attempts must be at least 1, got %d", p.RetryAttempts)
	}
	for _, c := range p.CPUs {
		if c < 0 {
			return nil, errdefs.Errorf(errdefs.InvalidProfile, op, "negative cpu index %d", c)
		}
	}
	return OutOfRange(p.CPUs, hostCores), nil
}

// OutOfRange returns the cores that do not exist on a host with hostCores
// logical processors, in their original order.
func OutOfRange(cores []int, hostCores int) []int {
	if hostCores <= 0 {
		return nil
	}
	var out []int
	for _, c := range cores {
		if c >= hostCores {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeCores removes duplicates while keeping first-seen order.
func NormalizeCores(cores []int) []int {
	if cores == nil {
		return nil
	}
	seen := make(map[int]struct{}, len(cores))
	out := make([]int, 0, len(cores))
	for _, c := range cores {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SortedCores returns a sorted copy, handy for order-independent comparisons.
func SortedCores(cores []int) []int {
	out := append([]int(nil), NormalizeCores(cores)...)
	sort.Ints(out)
	return out
}

// MaxCore is the highest core index accepted in a core list. It matches the
// largest CPU set the Linux kernel is commonly built for.
const MaxCore = 1023

// ParseCores parses a core list such as "0,2, 4" or "0-3,8". Only digits,
// commas, dashes and whitespace are accepted.
func ParseCores(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("no cores given")
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9') && r != ',' && r != '-' && r != ' ' && r != '\t' {
			return nil, fmt.Errorf("invalid character %q in core list: only numbers, commas, dashes and spaces allowed", r)
		}
	}
	var cores []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			b, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || b < a {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			if b > MaxCore {
				return nil, fmt.Errorf("core %d in %q is above the highest supported index %d", b, part, MaxCore)
			}
			for c := a; c <= b; c++ {
				cores = append(cores, c)
			}
			continue
		}
		c, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid core %q", part)
		}
		if c > MaxCore {
			return nil, fmt.Errorf("core %d is above the highest supported index %d", c, MaxCore)
		}
		cores = append(cores, c)
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no valid cores provided")
	}
	return NormalizeCores(cores), nil
}

// FormatCores joins cores with commas, the format taskset -c expects.
func FormatCores(cores []int) string {
	parts := make([]string, len(cores))
	for i, c := range cores {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
