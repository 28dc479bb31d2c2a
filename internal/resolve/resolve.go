// Package resolve maps free-text user references (names, sprints) to
// canonical backend identities. All functions are pure.
package resolve

import (
	"fmt"
	"strings"

	"github.com/clintrovert/excelsior/pkg/types"
)

// Resolution kinds. Callers choose fail-fast vs fallback explicitly instead
// of inspecting error types.
const (
	Resolved = iota
	NotFound
	Ambiguous
)

// Resolution is the tagged outcome of a name lookup.
type Resolution struct {
	Kind       int
	Email      string
	Candidates []types.TeamMember
}

// ResolveName maps a free-text person reference to a roster email. Inputs
// containing "@" are taken as emails directly. Otherwise every input token
// must substring-match the candidate's name or email; if that yields nothing
// the match relaxes to any-token. In strict mode zero or multiple matches
// return NotFound/Ambiguous; non-strict falls back to the raw input.
func ResolveName(input string, roster []types.TeamMember, strict bool) Resolution {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "@") {
		return Resolution{Kind: Resolved, Email: input}
	}

	tokens := strings.Fields(strings.ToLower(input))
	matches := matchRoster(roster, tokens, true)
	if len(matches) == 0 {
		matches = matchRoster(roster, tokens, false)
	}

	switch len(matches) {
	case 1:
		return Resolution{Kind: Resolved, Email: matches[0].Email}
	case 0:
		if strict {
			return Resolution{Kind: NotFound, Candidates: roster}
		}
		return Resolution{Kind: Resolved, Email: input}
	default:
		if strict {
			return Resolution{Kind: Ambiguous, Candidates: matches}
		}
		return Resolution{Kind: Resolved, Email: input}
	}
}

// Describe renders a non-resolved outcome as a tool-error string for the
// model.
func (r Resolution) Describe(input string) string {
	names := make([]string, 0, len(r.Candidates))
	for _, m := range r.Candidates {
		names = append(names, m.Name)
	}

	switch r.Kind {
	case NotFound:
		return fmt.Sprintf("no team member matches %q; available: %s", input, strings.Join(names, ", "))
	case Ambiguous:
		return fmt.Sprintf("%q is ambiguous; candidates: %s", input, strings.Join(names, ", "))
	default:
		return ""
	}
}

func matchRoster(roster []types.TeamMember, tokens []string, all bool) []types.TeamMember {
	var matches []types.TeamMember
	for _, m := range roster {
		haystack := strings.ToLower(m.Name + " " + m.Email)
		hit := all
		for _, tok := range tokens {
			contains := strings.Contains(haystack, tok)
			if all && !contains {
				hit = false
				break
			}
			if !all && contains {
				hit = true
				break
			}
		}
		if hit && len(tokens) > 0 {
			matches = append(matches, m)
		}
	}
	return matches
}

// ValidateSprintIDs checks requested sprint ids against the known sprint
// list, failing with the invalid subset.
func ValidateSprintIDs(ids []int, sprints []types.Sprint) error {
	known := make(map[int]bool, len(sprints))
	for _, s := range sprints {
		known[s.ID] = true
	}

	var invalid []string
	for _, id := range ids {
		if !known[id] {
			invalid = append(invalid, fmt.Sprintf("%d", id))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("unknown sprint id(s): %s", strings.Join(invalid, ", "))
	}
	return nil
}

// ParseSprintRef maps a numeric sprint reference to a sprint id. Small
// numbers (< 1000) are treated as ordinal sprint names ("Sprint 7") and
// matched against sprint names; larger numbers are literal backend sprint
// ids. The threshold is a heuristic carried over from observed usage; do not
// tighten it without checking real board ids.
func ParseSprintRef(n int, sprints []types.Sprint) (int, error) {
	if n >= 1000 {
		if err := ValidateSprintIDs([]int{n}, sprints); err != nil {
			return 0, err
		}
		return n, nil
	}

	needle := fmt.Sprintf("sprint %d", n)
	for _, s := range sprints {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return s.ID, nil
		}
	}
	return 0, fmt.Errorf("no sprint named like %q", needle)
}

// ActiveSprint returns the active sprint from a sprint list, or false when
// none is active.
func ActiveSprint(sprints []types.Sprint) (types.Sprint, bool) {
	for _, s := range sprints {
		if strings.EqualFold(s.State, "active") {
			return s, true
		}
	}
	return types.Sprint{}, false
}
