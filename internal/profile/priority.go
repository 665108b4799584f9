package profile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority is a platform-neutral scheduling priority level.
type Priority int

const (
	Idle Priority = iota
	BelowNormal
	Normal
	AboveNormal
	High
	Realtime
)

var priorityTags = [...]string{
	Idle:        "idle",
	BelowNormal: "below_normal",
	Normal:      "normal",
	AboveNormal: "above_normal",
	High:        "high",
	Realtime:    "realtime",
}

// Priorities lists every level from lowest to highest.
func Priorities() []Priority {
	return []Priority{Idle, BelowNormal, Normal, AboveNormal, High, Realtime}
}

func (p Priority) String() string {
	if p.Valid() {
		return priorityTags[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

func (p Priority) Valid() bool { return p >= Idle && p <= Realtime }

// NeedsElevation reports whether the level normally requires administrator
// rights on Windows.
func (p Priority) NeedsElevation() bool { return p == High || p == Realtime }

// ParsePriority accepts the JSON tags plus common spellings such as
// "BelowNormal", "below-normal" or "above normal".
func ParsePriority(s string) (Priority, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return Normal, nil
	}
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for i, tag := range priorityTags {
		if norm == tag || norm == strings.ReplaceAll(tag, "_", "") {
			return Priority(i), nil
		}
	}
	return Normal, fmt.Errorf("unknown priority %q (want one of %s)", s, strings.Join(priorityTags[:], ", "))
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return json.Marshal(priorityTags[p])
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("priority must be a string: %w", err)
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}
