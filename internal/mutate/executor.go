// Package mutate performs bulk create/update against the backend with
// per-item retry and partial-failure reporting.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/cache"
	jiraclient "github.com/clintrovert/excelsior/internal/jira"
	"github.com/clintrovert/excelsior/internal/resolve"
	"github.com/clintrovert/excelsior/pkg/types"
)

// createBatchSize is the bulk-create endpoint batch limit.
const createBatchSize = 50

// maxAttempts bounds rate-limit retries per call.
const maxAttempts = 3

// Backend is the slice of the Jira client the executor mutates through.
type Backend interface {
	ProjectKey() string
	BulkCreate(ctx context.Context, fieldSets []map[string]any) (*jiraclient.BulkCreateOutcome, error)
	UpdateFields(ctx context.Context, key string, fields map[string]any) error
	MoveToSprint(ctx context.Context, sprintID int, keys []string) error
	TransitionTo(ctx context.Context, key, statusName string) error
	AddComment(ctx context.Context, key, body string) error
}

// Executor runs confirmed bulk mutations.
type Executor struct {
	backends  map[string]Backend
	cache     *cache.Store
	logger    *zap.Logger
	retryBase time.Duration
}

// NewExecutor creates a mutation executor over per-project backends.
func NewExecutor(backends map[string]Backend, store *cache.Store, logger *zap.Logger) *Executor {
	return &Executor{
		backends:  backends,
		cache:     store,
		logger:    logger,
		retryBase: time.Second,
	}
}

// CreateIssues creates a batch of issues. Assignees are resolved strictly up
// front: any unknown or ambiguous name fails the whole batch before a single
// mutation. After creation each issue is independently moved to its requested
// sprint (else the active one) and transitioned to its requested status;
// failures there are logged but never revert the created issue.
func (e *Executor) CreateIssues(ctx context.Context, configID string, specs []types.IssueSpec) (*types.BulkOperationResult, error) {
	backend, ok := e.backends[configID]
	if !ok {
		return nil, fmt.Errorf("unknown project config %q", configID)
	}

	entry, err := e.cache.Get(ctx, configID)
	if err != nil {
		return nil, err
	}

	assignees := make([]string, len(specs))
	for i, spec := range specs {
		if spec.Assignee == "" {
			continue
		}
		res := resolve.ResolveName(spec.Assignee, entry.TeamMembers, true)
		if res.Kind != resolve.Resolved {
			return nil, fmt.Errorf("cannot create issues: %s", res.Describe(spec.Assignee))
		}
		assignees[i] = res.Email
	}

	result := &types.BulkOperationResult{Total: len(specs)}

	for start := 0; start < len(specs); start += createBatchSize {
		end := start + createBatchSize
		if end > len(specs) {
			end = len(specs)
		}
		batch := specs[start:end]

		fieldSets := make([]map[string]any, len(batch))
		for i, spec := range batch {
			fieldSets[i] = e.createFields(backend.ProjectKey(), spec, assignees[start+i], entry.FieldMappings)
		}

		var outcome *jiraclient.BulkCreateOutcome
		err := e.retry429(ctx, func() error {
			var cerr error
			outcome, cerr = backend.BulkCreate(ctx, fieldSets)
			return cerr
		})
		if err != nil {
			for _, spec := range batch {
				result.Failed++
				result.Results = append(result.Results, types.BulkItemResult{
					Action:  "error",
					Summary: spec.Summary,
					Error:   err.Error(),
				})
			}
			continue
		}

		// Element rejections do not fail the batch; each item reports its
		// own outcome. Accepted issues come back in submission order with
		// rejected items skipped.
		next := 0
		for i, spec := range batch {
			if msg, rejected := outcome.ElementErrors[i]; rejected {
				result.Failed++
				result.Results = append(result.Results, types.BulkItemResult{
					Action:  "error",
					Summary: spec.Summary,
					Error:   msg,
				})
				continue
			}
			item := types.BulkItemResult{Action: "created", Summary: spec.Summary}
			if next < len(outcome.Created) {
				item.Key = outcome.Created[next].Key
				next++
				e.placeCreated(ctx, backend, entry, item.Key, spec, &item)
			}
			result.Succeeded++
			result.Results = append(result.Results, item)
		}
	}

	return result, nil
}

// placeCreated applies the post-create side effects for one issue: sprint
// placement and a workflow transition when a non-default status was asked
// for. Each is retried independently and a failure is reported in the item's
// change text without failing the item.
func (e *Executor) placeCreated(ctx context.Context, backend Backend, entry *types.CacheEntry, key string, spec types.IssueSpec, item *types.BulkItemResult) {
	var notes []string

	sprintID := spec.SprintID
	if sprintID == 0 {
		if active, ok := resolve.ActiveSprint(entry.Sprints); ok {
			sprintID = active.ID
		}
	}
	if sprintID != 0 {
		err := e.retry429(ctx, func() error {
			return backend.MoveToSprint(ctx, sprintID, []string{key})
		})
		if err != nil {
			e.logger.Warn("failed to place created issue in sprint",
				zap.String("key", key), zap.Int("sprint_id", sprintID), zap.Error(err))
			notes = append(notes, fmt.Sprintf("sprint placement failed: %v", err))
		} else {
			notes = append(notes, fmt.Sprintf("moved to sprint %d", sprintID))
		}
	}

	if spec.Status != "" {
		err := e.retry429(ctx, func() error {
			return backend.TransitionTo(ctx, key, spec.Status)
		})
		if err != nil {
			e.logger.Warn("failed to transition created issue",
				zap.String("key", key), zap.String("status", spec.Status), zap.Error(err))
			notes = append(notes, fmt.Sprintf("transition failed: %v", err))
		} else {
			notes = append(notes, "status "+spec.Status)
		}
	}

	item.Changes = strings.Join(notes, "; ")
}

// UpdateIssues updates all issues in parallel. Items settle independently;
// one failure never cancels the rest.
func (e *Executor) UpdateIssues(ctx context.Context, configID string, specs []types.IssueSpec) (*types.BulkOperationResult, error) {
	backend, ok := e.backends[configID]
	if !ok {
		return nil, fmt.Errorf("unknown project config %q", configID)
	}

	entry, err := e.cache.Get(ctx, configID)
	if err != nil {
		return nil, err
	}

	results := make([]types.BulkItemResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		i, spec := i, spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.updateOne(ctx, backend, entry, spec)
		}()
	}
	wg.Wait()

	result := &types.BulkOperationResult{Total: len(specs), Results: results}
	for _, r := range results {
		if r.Action == "error" {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	return result, nil
}

func (e *Executor) updateOne(ctx context.Context, backend Backend, entry *types.CacheEntry, spec types.IssueSpec) types.BulkItemResult {
	item := types.BulkItemResult{Action: "updated", Key: spec.Key}
	var changes []string

	fields := e.updateFields(spec, entry)
	if len(fields) > 0 {
		err := e.retry429(ctx, func() error {
			return backend.UpdateFields(ctx, spec.Key, fields)
		})
		if err != nil {
			return types.BulkItemResult{Action: "error", Key: spec.Key, Error: err.Error()}
		}
		for f := range fields {
			changes = append(changes, f)
		}
	}

	if spec.SprintID != 0 {
		err := e.retry429(ctx, func() error {
			return backend.MoveToSprint(ctx, spec.SprintID, []string{spec.Key})
		})
		if err != nil {
			return types.BulkItemResult{Action: "error", Key: spec.Key, Error: err.Error()}
		}
		changes = append(changes, fmt.Sprintf("sprint %d", spec.SprintID))
	}

	if spec.Status != "" {
		err := e.retry429(ctx, func() error {
			return backend.TransitionTo(ctx, spec.Key, spec.Status)
		})
		if err != nil {
			return types.BulkItemResult{Action: "error", Key: spec.Key, Error: err.Error()}
		}
		changes = append(changes, "status "+spec.Status)
	}

	if spec.Comment != "" {
		err := e.retry429(ctx, func() error {
			return backend.AddComment(ctx, spec.Key, spec.Comment)
		})
		if err != nil {
			return types.BulkItemResult{Action: "error", Key: spec.Key, Error: err.Error()}
		}
		changes = append(changes, "comment")
	}

	if len(changes) == 0 {
		return types.BulkItemResult{Action: "error", Key: spec.Key, Error: "no changes requested"}
	}
	item.Changes = strings.Join(changes, ", ")
	return item
}

func (e *Executor) createFields(projectKey string, spec types.IssueSpec, assigneeEmail string, mappings types.FieldMappings) map[string]any {
	issueType := spec.IssueType
	if issueType == "" {
		issueType = "Task"
	}

	fields := map[string]any{
		"project":   map[string]any{"key": projectKey},
		"summary":   spec.Summary,
		"issuetype": map[string]any{"name": issueType},
	}
	if spec.Description != "" {
		fields["description"] = spec.Description
	}
	if assigneeEmail != "" {
		fields["assignee"] = map[string]any{"name": assigneeEmail}
	}
	if spec.Priority != "" {
		fields["priority"] = map[string]any{"name": spec.Priority}
	}
	if spec.ParentKey != "" {
		fields["parent"] = map[string]any{"key": spec.ParentKey}
	}
	if spec.StoryPoints > 0 && mappings.StoryPoints != "" {
		fields[mappings.StoryPoints] = spec.StoryPoints
	}
	return fields
}

func (e *Executor) updateFields(spec types.IssueSpec, entry *types.CacheEntry) map[string]any {
	fields := map[string]any{}
	if spec.Summary != "" {
		fields["summary"] = spec.Summary
	}
	if spec.Description != "" {
		fields["description"] = spec.Description
	}
	if spec.Assignee != "" {
		res := resolve.ResolveName(spec.Assignee, entry.TeamMembers, false)
		fields["assignee"] = map[string]any{"name": res.Email}
	}
	if spec.Priority != "" {
		fields["priority"] = map[string]any{"name": spec.Priority}
	}
	if spec.StoryPoints > 0 && entry.FieldMappings.StoryPoints != "" {
		fields[entry.FieldMappings.StoryPoints] = spec.StoryPoints
	}
	return fields
}

// retry429 retries op with exponential backoff starting at one second, only
// when the backend rate limits. Any other error is permanent and surfaces
// immediately.
func (e *Executor) retry429(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryBase

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, jiraclient.ErrRateLimited) && attempts < maxAttempts {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))

	if err != nil && errors.Is(err, jiraclient.ErrRateLimited) && attempts >= maxAttempts {
		return fmt.Errorf("Max retries exceeded: %w", err)
	}
	return err
}
