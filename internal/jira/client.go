package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/pkg/types"
)

// ErrRateLimited marks a backend 429. It is the only transport error the
// mutation executor retries.
var ErrRateLimited = errors.New("rate limited by backend")

// Client wraps the Jira REST and agile APIs for a single project.
type Client struct {
	client     *jira.Client
	logger     *zap.Logger
	projectKey string
	boardID    int
}

// NewClient creates a Jira client for one project config.
func NewClient(cfg types.ProjectConfig, logger *zap.Logger) (*Client, error) {
	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.APIToken,
	}

	client, err := jira.NewClient(tp.Client(), cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	return &Client{
		client:     client,
		logger:     logger,
		projectKey: cfg.ProjectKey,
		boardID:    cfg.BoardID,
	}, nil
}

// ProjectKey returns the backend project key this client is bound to.
func (c *Client) ProjectKey() string {
	return c.projectKey
}

// SearchIssues runs a JQL search scoped to the project.
func (c *Client) SearchIssues(ctx context.Context, jql string, max int) ([]jira.Issue, error) {
	scoped := fmt.Sprintf("project = %s", c.projectKey)
	if jql != "" {
		scoped = scoped + " AND (" + jql + ")"
	}

	issues, resp, err := c.client.Issue.SearchWithContext(ctx, scoped, &jira.SearchOptions{
		MaxResults: max,
	})
	if err != nil {
		return nil, c.wrapErr(resp, "failed to search issues", err)
	}
	return issues, nil
}

// ListSprints returns all sprints on the project board.
func (c *Client) ListSprints(ctx context.Context) ([]types.Sprint, error) {
	list, resp, err := c.client.Board.GetAllSprintsWithOptionsWithContext(ctx, c.boardID, &jira.GetAllSprintsOptions{})
	if err != nil {
		return nil, c.wrapErr(resp, "failed to list sprints", err)
	}

	sprints := make([]types.Sprint, 0, len(list.Values))
	for _, s := range list.Values {
		sprints = append(sprints, types.Sprint{
			ID:        s.ID,
			Name:      s.Name,
			State:     s.State,
			StartDate: s.StartDate,
			EndDate:   s.EndDate,
		})
	}
	return sprints, nil
}

// SprintIssues returns the issues assigned to a sprint.
func (c *Client) SprintIssues(ctx context.Context, sprintID, max int) ([]jira.Issue, error) {
	return c.SearchIssues(ctx, fmt.Sprintf("sprint = %d", sprintID), max)
}

// ListFields returns the backend field catalogue, custom fields included.
func (c *Client) ListFields(ctx context.Context) ([]jira.Field, error) {
	fields, resp, err := c.client.Field.GetListWithContext(ctx)
	if err != nil {
		return nil, c.wrapErr(resp, "failed to list fields", err)
	}
	return fields, nil
}

// ProjectMeta returns the project's version and component names.
func (c *Client) ProjectMeta(ctx context.Context) (versions, components []string, err error) {
	project, resp, err := c.client.Project.GetWithContext(ctx, c.projectKey)
	if err != nil {
		return nil, nil, c.wrapErr(resp, "failed to get project", err)
	}

	for _, v := range project.Versions {
		versions = append(versions, v.Name)
	}
	for _, comp := range project.Components {
		components = append(components, comp.Name)
	}
	return versions, components, nil
}

// ListPriorities returns the configured priority names.
func (c *Client) ListPriorities(ctx context.Context) ([]string, error) {
	priorities, resp, err := c.client.Priority.GetListWithContext(ctx)
	if err != nil {
		return nil, c.wrapErr(resp, "failed to list priorities", err)
	}

	names := make([]string, 0, len(priorities))
	for _, p := range priorities {
		names = append(names, p.Name)
	}
	return names, nil
}

// CreatedIssue is one issue returned by the bulk-create endpoint.
type CreatedIssue struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type bulkCreateRequest struct {
	IssueUpdates []bulkIssueUpdate `json:"issueUpdates"`
}

type bulkIssueUpdate struct {
	Fields map[string]any `json:"fields"`
}

type bulkCreateResponse struct {
	Issues []CreatedIssue `json:"issues"`
	Errors []struct {
		FailedElementNumber int `json:"failedElementNumber"`
		ElementErrors       struct {
			ErrorMessages []string `json:"errorMessages"`
		} `json:"elementErrors"`
	} `json:"errors"`
}

// BulkCreateOutcome reports the bulk-create endpoint's per-item results.
// Created holds the accepted issues in submission order with rejected items
// skipped; ElementErrors maps a rejected item's submission index to the
// backend's message.
type BulkCreateOutcome struct {
	Created       []CreatedIssue
	ElementErrors map[int]string
}

// BulkCreate submits one batch to the bulk issue-create endpoint. The
// endpoint has no go-jira binding, so it goes through NewRequest/Do. An
// error is transport-level only; element rejections come back in the
// outcome so callers can report each item individually.
func (c *Client) BulkCreate(ctx context.Context, fieldSets []map[string]any) (*BulkCreateOutcome, error) {
	body := bulkCreateRequest{}
	for _, fields := range fieldSets {
		body.IssueUpdates = append(body.IssueUpdates, bulkIssueUpdate{Fields: fields})
	}

	req, err := c.client.NewRequestWithContext(ctx, http.MethodPost, "rest/api/2/issue/bulk", body)
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk create request: %w", err)
	}

	var out bulkCreateResponse
	resp, err := c.client.Do(req, &out)
	if err != nil {
		return nil, c.wrapErr(resp, "failed to bulk create issues", err)
	}

	outcome := &BulkCreateOutcome{
		Created:       out.Issues,
		ElementErrors: make(map[int]string, len(out.Errors)),
	}
	for _, e := range out.Errors {
		outcome.ElementErrors[e.FailedElementNumber] = strings.Join(e.ElementErrors.ErrorMessages, "; ")
	}
	return outcome, nil
}

// UpdateFields applies a field-level update to one issue.
func (c *Client) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	resp, err := c.client.Issue.UpdateIssueWithContext(ctx, key, map[string]any{"fields": fields})
	if err != nil {
		return c.wrapErr(resp, fmt.Sprintf("failed to update %s", key), err)
	}
	return nil
}

// MoveToSprint moves issues onto a sprint.
func (c *Client) MoveToSprint(ctx context.Context, sprintID int, keys []string) error {
	resp, err := c.client.Sprint.MoveIssuesToSprintWithContext(ctx, sprintID, keys)
	if err != nil {
		return c.wrapErr(resp, fmt.Sprintf("failed to move issues to sprint %d", sprintID), err)
	}
	return nil
}

// TransitionTo transitions an issue to the workflow status matching the
// given name, case-insensitively.
func (c *Client) TransitionTo(ctx context.Context, key, statusName string) error {
	transitions, resp, err := c.client.Issue.GetTransitionsWithContext(ctx, key)
	if err != nil {
		return c.wrapErr(resp, "failed to get transitions", err)
	}

	var transitionID string
	for _, transition := range transitions {
		if strings.EqualFold(transition.To.Name, statusName) {
			transitionID = transition.ID
			break
		}
	}

	if transitionID == "" {
		return fmt.Errorf("transition to status %q not found for %s", statusName, key)
	}

	resp, err = c.client.Issue.DoTransitionWithContext(ctx, key, transitionID)
	if err != nil {
		return c.wrapErr(resp, "failed to transition issue", err)
	}
	return nil
}

// AddComment adds a comment to an issue.
func (c *Client) AddComment(ctx context.Context, key, body string) error {
	_, resp, err := c.client.Issue.AddCommentWithContext(ctx, key, &jira.Comment{Body: body})
	if err != nil {
		return c.wrapErr(resp, "failed to add comment", err)
	}
	return nil
}

// GetIssue fetches one issue with full fields.
func (c *Client) GetIssue(ctx context.Context, key string) (*jira.Issue, error) {
	issue, resp, err := c.client.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		return nil, c.wrapErr(resp, "failed to get issue", err)
	}
	return issue, nil
}

func (c *Client) wrapErr(resp *jira.Response, msg string, err error) error {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w", msg, ErrRateLimited)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
