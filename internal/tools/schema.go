package tools

import (
	"github.com/sashabaranov/go-openai"
)

// Tool names. create_issues and update_issues are mutating and are never
// executed by the dispatcher; the loop defers them behind confirmation.
const (
	ToolListSprints   = "list_sprints"
	ToolSprintStatus  = "sprint_status"
	ToolSearchIssues  = "search_issues"
	ToolTeamWorkload  = "team_workload"
	ToolGetIssue      = "get_issue"
	ToolQueryCSV      = "query_csv"
	ToolAnalyzeCached = "analyze_cached"
	ToolCreateIssues  = "create_issues"
	ToolUpdateIssues  = "update_issues"
)

// IsMutating reports whether a tool call must go through the
// confirmation gate instead of the dispatcher.
func IsMutating(name string) bool {
	return name == ToolCreateIssues || name == ToolUpdateIssues
}

func obj(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func num(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

var issueSpecSchema = obj(map[string]any{
	"key":          str("issue key, required for updates"),
	"summary":      str("issue summary"),
	"description":  str("issue description"),
	"issue_type":   str("issue type, defaults to Task"),
	"assignee":     str("assignee name or email"),
	"sprint_id":    num("backend sprint id"),
	"status":       str("workflow status name"),
	"story_points": num("story point estimate"),
	"priority":     str("priority name"),
	"parent_key":   str("parent issue key"),
	"comment":      str("comment to add, updates only"),
})

// Catalogue returns the published tool schemas sent to the model.
func Catalogue() []openai.Tool {
	defs := []openai.FunctionDefinition{
		{
			Name:        ToolListSprints,
			Description: "List the project's sprints with ids, names and states.",
			Parameters:  obj(map[string]any{}),
		},
		{
			Name:        ToolSprintStatus,
			Description: "Summarize one sprint: issue counts by status, total story points, per-person points.",
			Parameters: obj(map[string]any{
				"sprint_number": num("sprint number (small) or backend sprint id (large); omit for the active sprint"),
			}),
		},
		{
			Name:        ToolSearchIssues,
			Description: "Find issues by assignee, status category, keyword and/or point range within a sprint or the whole project.",
			Parameters: obj(map[string]any{
				"sprint_number": num("sprint number or id to scope the search; omit for project-wide"),
				"assignees":     strList("people to filter by, names or emails"),
				"statuses":      strList("status categories: done, in-progress, todo, or literal status names"),
				"keyword":       str("substring to match in issue summaries"),
				"min_points":    num("minimum story points"),
				"max_points":    num("maximum story points"),
			}),
		},
		{
			Name:        ToolTeamWorkload,
			Description: "Break down a sprint's issues and story points per assignee.",
			Parameters: obj(map[string]any{
				"sprint_number": num("sprint number or id; omit for the active sprint"),
			}),
		},
		{
			Name:        ToolGetIssue,
			Description: "Fetch one issue in detail by key.",
			Parameters:  obj(map[string]any{"key": str("issue key, e.g. PROJ-123")}, "key"),
		},
		{
			Name:        ToolQueryCSV,
			Description: "Filter and page through the CSV rows the user uploaded this turn.",
			Parameters: obj(map[string]any{
				"filters": map[string]any{
					"type":        "object",
					"description": "column to required substring match",
					"additionalProperties": map[string]any{
						"type": "string",
					},
				},
				"offset": num("row offset"),
				"limit":  num("max rows to return"),
			}),
		},
		{
			Name:        ToolAnalyzeCached,
			Description: "Run count, sum, group-by or comparison filters over the issue list fetched by the previous tool call, without refetching.",
			Parameters: obj(map[string]any{
				"operation":  str("one of: count, sum, group_by, filter"),
				"field":      str("field to operate on: points, status, assignee"),
				"comparator": str("for filter: gt, gte, lt, lte or eq"),
				"value":      num("comparison value for filter on points"),
			}, "operation"),
		},
		{
			Name:        ToolCreateIssues,
			Description: "Propose creating issues. Requires human confirmation before anything is created.",
			Parameters: obj(map[string]any{
				"issues": map[string]any{"type": "array", "items": issueSpecSchema, "description": "issues to create"},
			}, "issues"),
		},
		{
			Name:        ToolUpdateIssues,
			Description: "Propose updating issues. Requires human confirmation before anything changes.",
			Parameters: obj(map[string]any{
				"issues": map[string]any{"type": "array", "items": issueSpecSchema, "description": "changes to apply, keyed by issue key"},
			}, "issues"),
		},
	}

	tools := make([]openai.Tool, len(defs))
	for i := range defs {
		tools[i] = openai.Tool{Type: openai.ToolTypeFunction, Function: &defs[i]}
	}
	return tools
}
