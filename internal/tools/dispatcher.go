// Package tools routes model-selected tool calls to local handlers or to the
// backend, and condenses results before they re-enter model context.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/cache"
	jiraclient "github.com/clintrovert/excelsior/internal/jira"
	"github.com/clintrovert/excelsior/internal/resolve"
	"github.com/clintrovert/excelsior/pkg/types"
)

const searchMax = 200

// Backend is the read-only slice of the Jira client remote tools use.
type Backend interface {
	SearchIssues(ctx context.Context, jql string, max int) ([]jira.Issue, error)
	SprintIssues(ctx context.Context, sprintID, max int) ([]jira.Issue, error)
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
}

// State is the caller-held per-turn state local tools run against.
type State struct {
	ConfigID string
	CSVRows  []map[string]string
	// Cached is the latest informational tool result. analyze_cached reads
	// it; every grounding tool overwrites it.
	Cached *types.AuditContext
}

// Outcome is the result of one tool execution. A non-empty Err is a captured
// validation or transport failure relayed to the model, never a crash.
type Outcome struct {
	Trace     string
	ForModel  string
	Records   any
	Grounding *types.AuditContext
	Err       string
}

// Dispatcher routes tool calls.
type Dispatcher struct {
	backends map[string]Backend
	cache    *cache.Store
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher over per-project read backends.
func NewDispatcher(backends map[string]Backend, store *cache.Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{backends: backends, cache: store, logger: logger}
}

// DecodeArgs parses a tool call's raw JSON arguments. Malformed JSON decodes
// to an empty object rather than failing the call.
func DecodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// Execute runs one informational tool call. Mutating tools are rejected
// here; the loop routes them through the confirmation gate instead.
func (d *Dispatcher) Execute(ctx context.Context, state *State, call types.ToolCall) Outcome {
	if IsMutating(call.Name) {
		return Outcome{Err: fmt.Sprintf("tool %s requires confirmation and cannot run directly", call.Name)}
	}

	var out Outcome
	switch call.Name {
	case ToolListSprints:
		out = d.listSprints(ctx, state)
	case ToolSprintStatus:
		out = d.sprintStatus(ctx, state, call.Arguments)
	case ToolSearchIssues:
		out = d.searchIssues(ctx, state, call.Arguments)
	case ToolTeamWorkload:
		out = d.teamWorkload(ctx, state, call.Arguments)
	case ToolGetIssue:
		out = d.getIssue(ctx, state, call.Arguments)
	case ToolQueryCSV:
		out = queryCSV(state, call.Arguments)
	case ToolAnalyzeCached:
		out = analyzeCached(state, call.Arguments)
	default:
		out = Outcome{Err: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	if out.Grounding != nil {
		out.Grounding.ToolName = call.Name
		state.Cached = out.Grounding
	}
	if out.Err != "" {
		d.logger.Debug("tool returned error to model",
			zap.String("tool", call.Name), zap.String("error", out.Err))
	}
	return out
}

func (d *Dispatcher) listSprints(ctx context.Context, state *State) Outcome {
	entry, err := d.cache.Get(ctx, state.ConfigID)
	if err != nil {
		return Outcome{Err: err.Error()}
	}

	var lines []string
	for _, s := range entry.Sprints {
		lines = append(lines, fmt.Sprintf("%s (id %d, %s)", s.Name, s.ID, s.State))
	}
	body := "Sprints: " + strings.Join(lines, "; ")
	return Outcome{
		Trace:    fmt.Sprintf("listed %d sprints", len(entry.Sprints)),
		ForModel: body,
		Records:  entry.Sprints,
	}
}

func (d *Dispatcher) sprintStatus(ctx context.Context, state *State, args map[string]any) Outcome {
	issues, sprint, entry, err := d.sprintScope(ctx, state, args)
	if err != nil {
		return Outcome{Err: err.Error()}
	}

	summaries := jiraclient.SummarizeAll(issues, entry.FieldMappings.StoryPoints)

	grounding := &types.AuditContext{
		Filters:     fmt.Sprintf("sprint = %s", sprint.Name),
		Issues:      summaries,
		TotalCount:  len(summaries),
		TotalPoints: totalPoints(summaries),
	}
	return Outcome{
		Trace:     fmt.Sprintf("summarized %s: %d issues", sprint.Name, len(summaries)),
		ForModel:  Condense(summaries, "sprint "+sprint.Name),
		Records:   summaries,
		Grounding: grounding,
	}
}

func (d *Dispatcher) searchIssues(ctx context.Context, state *State, args map[string]any) Outcome {
	entry, err := d.cache.Get(ctx, state.ConfigID)
	if err != nil {
		return Outcome{Err: err.Error()}
	}
	backend := d.backends[state.ConfigID]

	var issues []jira.Issue
	scope := "project"
	if n, ok := argNumber(args, "sprint_number"); ok {
		sprintID, err := resolve.ParseSprintRef(int(n), entry.Sprints)
		if err != nil {
			return Outcome{Err: err.Error()}
		}
		issues, err = backend.SprintIssues(ctx, sprintID, searchMax)
		if err != nil {
			return Outcome{Err: err.Error()}
		}
		scope = fmt.Sprintf("sprint %d", int(n))
	} else {
		issues, err = backend.SearchIssues(ctx, "", searchMax)
		if err != nil {
			return Outcome{Err: err.Error()}
		}
	}

	summaries := jiraclient.SummarizeAll(issues, entry.FieldMappings.StoryPoints)

	var filters []resolve.IssueFilter
	if people := argStrings(args, "assignees"); len(people) > 0 {
		resolved := make([]string, 0, len(people))
		for _, p := range people {
			res := resolve.ResolveName(p, entry.TeamMembers, false)
			resolved = append(resolved, res.Email)
		}
		filters = append(filters, resolve.AssigneeIn(append(people, resolved...)))
	}
	if statuses := argStrings(args, "statuses"); len(statuses) > 0 {
		filters = append(filters, resolve.StatusCategory(statuses))
	}
	if kw, ok := argString(args, "keyword"); ok && kw != "" {
		filters = append(filters, resolve.Keyword(kw))
	}
	minPts, hasMin := argNumber(args, "min_points")
	maxPts, hasMax := argNumber(args, "max_points")
	if hasMin || hasMax {
		if !hasMin {
			minPts = -1
		}
		if !hasMax {
			maxPts = -1
		}
		filters = append(filters, resolve.PointsRange(minPts, maxPts))
	}

	matched := resolve.Apply(summaries, filters)
	desc := scope + ": " + resolve.DescribeFilters(filters)

	grounding := &types.AuditContext{
		Filters:     desc,
		Issues:      matched,
		TotalCount:  len(matched),
		TotalPoints: totalPoints(matched),
	}
	return Outcome{
		Trace:     fmt.Sprintf("search matched %d of %d issues (%s)", len(matched), len(summaries), desc),
		ForModel:  Condense(matched, desc),
		Records:   matched,
		Grounding: grounding,
	}
}

func (d *Dispatcher) teamWorkload(ctx context.Context, state *State, args map[string]any) Outcome {
	issues, sprint, entry, err := d.sprintScope(ctx, state, args)
	if err != nil {
		return Outcome{Err: err.Error()}
	}

	summaries := jiraclient.SummarizeAll(issues, entry.FieldMappings.StoryPoints)

	counts := map[string]int{}
	points := map[string]float64{}
	for _, is := range summaries {
		who := is.Assignee
		if who == "" {
			who = "unassigned"
		}
		counts[who]++
		points[who] += is.StoryPoints
	}

	var lines []string
	for who, n := range counts {
		lines = append(lines, fmt.Sprintf("%s: %d issue(s), %v point(s)", who, n, points[who]))
	}

	grounding := &types.AuditContext{
		Filters:     fmt.Sprintf("workload for %s", sprint.Name),
		Issues:      summaries,
		TotalCount:  len(summaries),
		TotalPoints: totalPoints(summaries),
	}
	return Outcome{
		Trace:     fmt.Sprintf("workload for %s across %d people", sprint.Name, len(counts)),
		ForModel:  fmt.Sprintf("Workload in %s — %s. Total: %d issues, %v points.", sprint.Name, strings.Join(lines, "; "), len(summaries), totalPoints(summaries)),
		Records:   map[string]any{"counts": counts, "points": points},
		Grounding: grounding,
	}
}

func (d *Dispatcher) getIssue(ctx context.Context, state *State, args map[string]any) Outcome {
	key, ok := argString(args, "key")
	if !ok || key == "" {
		return Outcome{Err: "get_issue requires a key argument"}
	}

	entry, err := d.cache.Get(ctx, state.ConfigID)
	if err != nil {
		return Outcome{Err: err.Error()}
	}

	backend := d.backends[state.ConfigID]
	issue, err := backend.GetIssue(ctx, key)
	if err != nil {
		return Outcome{Err: err.Error()}
	}

	s := jiraclient.Summarize(issue, entry.FieldMappings.StoryPoints)

	desc := issue.Fields.Description
	if len(desc) > 600 {
		desc = desc[:600] + "…"
	}

	grounding := &types.AuditContext{
		Filters:     "key = " + key,
		Issues:      []types.IssueSummary{s},
		TotalCount:  1,
		TotalPoints: s.StoryPoints,
	}
	return Outcome{
		Trace: "fetched " + key,
		ForModel: fmt.Sprintf("%s [%s] %s — assignee %s, %v points. %s",
			s.Key, s.Status, s.Summary, orDash(s.Assignee), s.StoryPoints, desc),
		Records:   s,
		Grounding: grounding,
	}
}

// sprintScope resolves the sprint_number argument (default: active sprint)
// and fetches its issues, handing back the metadata snapshot it consulted.
func (d *Dispatcher) sprintScope(ctx context.Context, state *State, args map[string]any) ([]jira.Issue, types.Sprint, *types.CacheEntry, error) {
	entry, err := d.cache.Get(ctx, state.ConfigID)
	if err != nil {
		return nil, types.Sprint{}, nil, err
	}

	var sprint types.Sprint
	if n, ok := argNumber(args, "sprint_number"); ok {
		sprintID, err := resolve.ParseSprintRef(int(n), entry.Sprints)
		if err != nil {
			return nil, types.Sprint{}, nil, err
		}
		for _, s := range entry.Sprints {
			if s.ID == sprintID {
				sprint = s
			}
		}
	} else {
		active, ok := resolve.ActiveSprint(entry.Sprints)
		if !ok {
			return nil, types.Sprint{}, nil, fmt.Errorf("no active sprint; pass sprint_number explicitly")
		}
		sprint = active
	}

	backend := d.backends[state.ConfigID]
	issues, err := backend.SprintIssues(ctx, sprint.ID, searchMax)
	if err != nil {
		return nil, types.Sprint{}, nil, err
	}
	return issues, sprint, entry, nil
}

func totalPoints(issues []types.IssueSummary) float64 {
	var total float64
	for _, is := range issues {
		total += is.StoryPoints
	}
	return total
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func argNumber(args map[string]any, key string) (float64, bool) {
	v, ok := args[key].(float64)
	return v, ok
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
