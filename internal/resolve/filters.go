package resolve

import (
	"fmt"
	"strings"

	"github.com/clintrovert/excelsior/pkg/types"
)

// IssueFilter is a predicate over condensed issues. Filters of distinct
// kinds combine via logical AND.
type IssueFilter struct {
	Kind  string
	Match func(types.IssueSummary) bool
	Desc  string
}

// statusSynonyms normalizes the category words users actually type onto the
// status names boards actually use.
var statusSynonyms = map[string][]string{
	"done":        {"done", "closed", "resolved", "complete", "completed"},
	"in-progress": {"in progress", "in-progress", "doing", "in review", "review", "testing"},
	"todo":        {"to do", "todo", "open", "backlog", "new", "ready"},
}

// AssigneeIn matches issues assigned to any of the given people, by display
// name or email substring.
func AssigneeIn(people []string) IssueFilter {
	lowered := make([]string, len(people))
	for i, p := range people {
		lowered[i] = strings.ToLower(p)
	}
	return IssueFilter{
		Kind: "assignee",
		Desc: fmt.Sprintf("assignee in [%s]", strings.Join(people, ", ")),
		Match: func(is types.IssueSummary) bool {
			got := strings.ToLower(is.Assignee)
			for _, p := range lowered {
				if got != "" && (strings.Contains(got, p) || strings.Contains(p, got)) {
					return true
				}
			}
			return false
		},
	}
}

// StatusCategory matches issues whose status falls into any of the given
// categories (done, in-progress, todo) or matches a literal status name.
func StatusCategory(categories []string) IssueFilter {
	var wanted []string
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if syns, ok := statusSynonyms[c]; ok {
			wanted = append(wanted, syns...)
		} else {
			wanted = append(wanted, c)
		}
	}
	return IssueFilter{
		Kind: "status",
		Desc: fmt.Sprintf("status in [%s]", strings.Join(categories, ", ")),
		Match: func(is types.IssueSummary) bool {
			got := strings.ToLower(is.Status)
			for _, w := range wanted {
				if got == w {
					return true
				}
			}
			return false
		},
	}
}

// Keyword matches issues whose summary contains the keyword,
// case-insensitively.
func Keyword(kw string) IssueFilter {
	needle := strings.ToLower(kw)
	return IssueFilter{
		Kind: "keyword",
		Desc: fmt.Sprintf("summary contains %q", kw),
		Match: func(is types.IssueSummary) bool {
			return strings.Contains(strings.ToLower(is.Summary), needle)
		},
	}
}

// PointsRange matches issues whose story points fall within [min, max].
// A negative bound means unbounded on that side.
func PointsRange(min, max float64) IssueFilter {
	return IssueFilter{
		Kind: "points",
		Desc: fmt.Sprintf("points in [%v, %v]", min, max),
		Match: func(is types.IssueSummary) bool {
			if min >= 0 && is.StoryPoints < min {
				return false
			}
			if max >= 0 && is.StoryPoints > max {
				return false
			}
			return true
		},
	}
}

// Apply runs all filters over the issues, ANDing across filters.
func Apply(issues []types.IssueSummary, filters []IssueFilter) []types.IssueSummary {
	var out []types.IssueSummary
	for _, is := range issues {
		ok := true
		for _, f := range filters {
			if !f.Match(is) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, is)
		}
	}
	return out
}

// DescribeFilters renders the applied filters for traces and the filter
// auditor.
func DescribeFilters(filters []IssueFilter) string {
	if len(filters) == 0 {
		return "no filters"
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.Desc
	}
	return strings.Join(parts, " AND ")
}
