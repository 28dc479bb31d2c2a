package jira

import (
	jira "github.com/andygrunwald/go-jira"

	"github.com/clintrovert/excelsior/pkg/types"
)

// Summarize converts a backend issue into the condensed form the rest of the
// system works with. pointsField is the discovered story-points custom field
// id; empty means points are unavailable for the project.
func Summarize(issue *jira.Issue, pointsField string) types.IssueSummary {
	s := types.IssueSummary{
		Key:     issue.Key,
		Summary: issue.Fields.Summary,
	}

	if issue.Fields.Status != nil {
		s.Status = issue.Fields.Status.Name
	}
	if issue.Fields.Assignee != nil {
		s.Assignee = issue.Fields.Assignee.DisplayName
	}
	if issue.Fields.Priority != nil {
		s.Priority = issue.Fields.Priority.Name
	}

	if pointsField != "" {
		if raw, ok := issue.Fields.Unknowns[pointsField]; ok {
			if pts, ok := raw.(float64); ok {
				s.StoryPoints = pts
			}
		}
	}

	return s
}

// SummarizeAll maps a search result to condensed summaries.
func SummarizeAll(issues []jira.Issue, pointsField string) []types.IssueSummary {
	out := make([]types.IssueSummary, 0, len(issues))
	for i := range issues {
		out = append(out, Summarize(&issues[i], pointsField))
	}
	return out
}

// AssigneeRecord is a raw (name, email) pair observed on sampled issues.
// Roster dedup happens in the cache layer.
type AssigneeRecord struct {
	Name  string
	Email string
}

// Assignees extracts assignee records from issues, skipping unassigned ones.
func Assignees(issues []jira.Issue) []AssigneeRecord {
	var out []AssigneeRecord
	for i := range issues {
		a := issues[i].Fields.Assignee
		if a == nil || a.EmailAddress == "" {
			continue
		}
		out = append(out, AssigneeRecord{Name: a.DisplayName, Email: a.EmailAddress})
	}
	return out
}

// Statuses extracts the distinct status names observed on issues, in
// first-seen order.
func Statuses(issues []jira.Issue) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range issues {
		st := issues[i].Fields.Status
		if st == nil || seen[st.Name] {
			continue
		}
		seen[st.Name] = true
		out = append(out, st.Name)
	}
	return out
}
