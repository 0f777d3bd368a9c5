// Package transcript accumulates the finalized utterances of one interview
// call in arrival order.
//
// Only committed utterances belong here. Interim hypotheses from the voice
// engine are filtered out by the caller before [Accumulator.Append] is
// called. The accumulator does not deduplicate: two identical utterances are
// two entries.
package transcript

import (
	"fmt"
	"strings"
	"sync"
)

// Role identifies who produced an utterance.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleSystem    Role = "system"
	RoleAgent     Role = "agent"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleCandidate, RoleSystem, RoleAgent:
		return true
	}
	return false
}

// ParseRole maps a voice-engine speaker role to a [Role]. Engine roles
// ("user", "assistant", "system") and the canonical names are both accepted.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user", string(RoleCandidate):
		return RoleCandidate, nil
	case "assistant", string(RoleAgent):
		return RoleAgent, nil
	case "system":
		return RoleSystem, nil
	}
	return "", fmt.Errorf("transcript: unknown role %q", s)
}

// Entry is one finalized utterance.
type Entry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Accumulator is an append-only, ordered list of entries. It is safe for
// concurrent use; Append never blocks on I/O.
type Accumulator struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds e at the end.
func (a *Accumulator) Append(e Entry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

// Snapshot returns a copy of all entries in arrival order.
func (a *Accumulator) Snapshot() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Reset discards all entries. It is used only when a new call begins.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()
}

// Format renders entries as "- <role>: <text>" lines joined with newlines.
func Format(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(string(e.Role))
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	return b.String()
}
