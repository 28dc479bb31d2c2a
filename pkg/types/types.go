package types

import (
	"time"
)

// ProjectConfig identifies one configured Jira project. Immutable after load.
type ProjectConfig struct {
	ID         string `yaml:"id"`
	BaseURL    string `yaml:"base_url"`
	BoardID    int    `yaml:"board_id"`
	ProjectKey string `yaml:"project_key"`
	Username   string `yaml:"username"`
	APIToken   string `yaml:"api_token"`
}

// TeamMember is one person on the project roster.
type TeamMember struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Sprint is the subset of sprint metadata the assistant reasons about.
type Sprint struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	State     string     `json:"state"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// FieldMappings maps logical field names to backend custom field ids.
// A nil/empty id means the field was not discovered and the feature is
// unavailable for the project, not an error.
type FieldMappings struct {
	StoryPoints string `json:"story_points,omitempty"`
}

// CacheEntry is one project's metadata snapshot. Entries are replaced whole;
// no field is ever updated in place.
type CacheEntry struct {
	Sprints       []Sprint      `json:"sprints"`
	Statuses      []string      `json:"statuses"`
	TeamMembers   []TeamMember  `json:"team_members"`
	FieldMappings FieldMappings `json:"field_mappings"`
	Versions      []string      `json:"versions"`
	Components    []string      `json:"components"`
	Priorities    []string      `json:"priorities"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

// CacheInfo is the read-only introspection view of a cache entry.
type CacheInfo struct {
	Valid     bool          `json:"valid"`
	Age       time.Duration `json:"age"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// ConversationTurn is one message in a conversation. Append-only.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a model-selected tool invocation. Arguments have already been
// decoded; malformed argument JSON decodes to an empty map.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// IssueSpec describes one issue to create or one set of changes to apply.
type IssueSpec struct {
	Key         string  `json:"key,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	Description string  `json:"description,omitempty"`
	IssueType   string  `json:"issue_type,omitempty"`
	Assignee    string  `json:"assignee,omitempty"`
	SprintID    int     `json:"sprint_id,omitempty"`
	Status      string  `json:"status,omitempty"`
	StoryPoints float64 `json:"story_points,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	ParentKey   string  `json:"parent_key,omitempty"`
	Comment     string  `json:"comment,omitempty"`
}

// PendingAction is a proposed mutating tool call awaiting human confirmation.
// It exists only between "proposed" and "confirmed/cancelled" and is never
// executed without an explicit confirm.
type PendingAction struct {
	ID       string      `json:"id"`
	ToolName string      `json:"tool_name"`
	Issues   []IssueSpec `json:"issues"`
	Audit    *AuditNote  `json:"audit,omitempty"`
}

// AuditNote is the UI-facing form of an audit verdict.
type AuditNote struct {
	Verdict string `json:"verdict"`
	Note    string `json:"note,omitempty"`
}

// BulkItemResult is the outcome of one issue within a bulk operation.
type BulkItemResult struct {
	Action  string `json:"action"` // created | updated | error
	Key     string `json:"key,omitempty"`
	Summary string `json:"summary,omitempty"`
	Changes string `json:"changes,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BulkOperationResult aggregates a bulk create/update.
// Invariant: Succeeded + Failed == Total.
type BulkOperationResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []BulkItemResult `json:"results"`
}

// IssueSummary is the condensed view of a backend issue used in tool results.
type IssueSummary struct {
	Key         string  `json:"key"`
	Summary     string  `json:"summary"`
	Status      string  `json:"status"`
	Assignee    string  `json:"assignee,omitempty"`
	StoryPoints float64 `json:"story_points,omitempty"`
	SprintName  string  `json:"sprint_name,omitempty"`
	Priority    string  `json:"priority,omitempty"`
}

// AuditContext carries the latest informational tool result for fact
// checking. It is set only from tool results, never from model text, and is
// overwritten each time a grounding tool runs.
type AuditContext struct {
	ToolName    string
	Filters     string
	Issues      []IssueSummary
	TotalCount  int
	TotalPoints float64
}
