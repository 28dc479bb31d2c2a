package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clintrovert/excelsior/pkg/types"
)

const csvDefaultLimit = 20

// queryCSV filters and paginates the rows the caller is already holding.
// CSV parsing itself happens upstream; rows arrive as column maps.
func queryCSV(state *State, args map[string]any) Outcome {
	if len(state.CSVRows) == 0 {
		return Outcome{Err: "no CSV data uploaded this conversation"}
	}

	rows := state.CSVRows
	if rawFilters, ok := args["filters"].(map[string]any); ok {
		var filtered []map[string]string
		for _, row := range rows {
			match := true
			for col, want := range rawFilters {
				wantStr, _ := want.(string)
				if !strings.Contains(strings.ToLower(row[col]), strings.ToLower(wantStr)) {
					match = false
					break
				}
			}
			if match {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	total := len(rows)

	offset := 0
	if n, ok := argNumber(args, "offset"); ok {
		offset = int(n)
	}
	limit := csvDefaultLimit
	if n, ok := argNumber(args, "limit"); ok && n > 0 {
		limit = int(n)
	}
	if offset > len(rows) {
		offset = len(rows)
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	page := rows[offset:end]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d row(s) matched; showing %d-%d.\n", total, offset, end))
	for _, row := range page {
		cols := make([]string, 0, len(row))
		for k, v := range row {
			cols = append(cols, k+"="+v)
		}
		sort.Strings(cols)
		sb.WriteString(strings.Join(cols, ", ") + "\n")
	}

	return Outcome{
		Trace:    fmt.Sprintf("csv query matched %d row(s)", total),
		ForModel: sb.String(),
		Records:  page,
	}
}

// analyzeCached runs analytics over the issue list cached from the previous
// informational tool call. With nothing cached it returns guidance for the
// model, not an error.
func analyzeCached(state *State, args map[string]any) Outcome {
	if state.Cached == nil || len(state.Cached.Issues) == 0 {
		return Outcome{
			Trace:    "analyze_cached had no cached data",
			ForModel: "No issue data is cached yet. Call search_issues, sprint_status or team_workload first, then analyze the result.",
		}
	}

	op, _ := argString(args, "operation")
	field, _ := argString(args, "field")
	issues := state.Cached.Issues

	switch op {
	case "count":
		return Outcome{
			Trace:    "counted cached issues",
			ForModel: fmt.Sprintf("Cached result has %d issue(s).", len(issues)),
		}
	case "sum":
		return Outcome{
			Trace:    "summed cached points",
			ForModel: fmt.Sprintf("Cached result totals %v story point(s) across %d issue(s).", sumPoints(issues), len(issues)),
		}
	case "group_by":
		groups := map[string]int{}
		pts := map[string]float64{}
		for _, is := range issues {
			k := groupKey(is, field)
			groups[k]++
			pts[k] += is.StoryPoints
		}
		var lines []string
		for k, n := range groups {
			lines = append(lines, fmt.Sprintf("%s: %d issue(s), %v point(s)", k, n, pts[k]))
		}
		sort.Strings(lines)
		return Outcome{
			Trace:    fmt.Sprintf("grouped cached issues by %s", field),
			ForModel: "Grouped by " + field + " — " + strings.Join(lines, "; "),
			Records:  groups,
		}
	case "filter":
		cmp, _ := argString(args, "comparator")
		value, hasValue := argNumber(args, "value")
		if !hasValue {
			return Outcome{Err: "filter operation requires a numeric value"}
		}
		var matched []types.IssueSummary
		for _, is := range issues {
			if comparePoints(is.StoryPoints, cmp, value) {
				matched = append(matched, is)
			}
		}
		return Outcome{
			Trace:    fmt.Sprintf("filtered cached issues: %d matched", len(matched)),
			ForModel: Condense(matched, fmt.Sprintf("cached result where points %s %v", cmp, value)),
			Records:  matched,
		}
	default:
		return Outcome{Err: fmt.Sprintf("unknown operation %q; use count, sum, group_by or filter", op)}
	}
}

func groupKey(is types.IssueSummary, field string) string {
	switch field {
	case "assignee":
		if is.Assignee == "" {
			return "unassigned"
		}
		return is.Assignee
	case "points":
		return fmt.Sprintf("%v", is.StoryPoints)
	default:
		return is.Status
	}
}

func comparePoints(got float64, cmp string, want float64) bool {
	switch cmp {
	case "gt":
		return got > want
	case "gte":
		return got >= want
	case "lt":
		return got < want
	case "lte":
		return got <= want
	case "eq":
		return got == want
	default:
		return false
	}
}

func sumPoints(issues []types.IssueSummary) float64 {
	var total float64
	for _, is := range issues {
		total += is.StoryPoints
	}
	return total
}
