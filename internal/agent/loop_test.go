package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	jira "github.com/andygrunwald/go-jira"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/audit"
	"github.com/clintrovert/excelsior/internal/cache"
	"github.com/clintrovert/excelsior/internal/convo"
	jiraclient "github.com/clintrovert/excelsior/internal/jira"
	"github.com/clintrovert/excelsior/internal/mutate"
	"github.com/clintrovert/excelsior/internal/tools"
	"github.com/clintrovert/excelsior/pkg/types"
)

// scriptedChat replays canned responses; after the script runs out it keeps
// returning the last one. Requests are captured for inspection.
type scriptedChat struct {
	responses []openai.ChatCompletionResponse
	err       error
	calls     int
	reqs      []openai.ChatCompletionRequest
}

func (s *scriptedChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.calls++
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func contentResponse(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: text}},
		},
	}
}

func toolResponse(name, args string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call-1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			}},
		},
	}
}

type stubBackend struct{}

func (stubBackend) ListSprints(context.Context) ([]types.Sprint, error) {
	return []types.Sprint{{ID: 2001, Name: "Sprint 7", State: "active"}}, nil
}

func (stubBackend) SprintIssues(context.Context, int, int) ([]jira.Issue, error) {
	return []jira.Issue{{
		Key: "PRJ-1",
		Fields: &jira.IssueFields{
			Summary:  "fix checkout",
			Status:   &jira.Status{Name: "Done"},
			Assignee: &jira.User{DisplayName: "John Doe", EmailAddress: "john@x.com"},
		},
	}}, nil
}

func (stubBackend) SearchIssues(ctx context.Context, _ string, _ int) ([]jira.Issue, error) {
	return stubBackend{}.SprintIssues(ctx, 0, 0)
}

func (stubBackend) GetIssue(context.Context, string) (*jira.Issue, error) {
	return nil, errors.New("not found")
}

func (stubBackend) ListFields(context.Context) ([]jira.Field, error)        { return nil, nil }
func (stubBackend) ProjectMeta(context.Context) ([]string, []string, error) { return nil, nil, nil }
func (stubBackend) ListPriorities(context.Context) ([]string, error)        { return nil, nil }

func (stubBackend) ProjectKey() string { return "PRJ" }

func (stubBackend) BulkCreate(_ context.Context, fieldSets []map[string]any) (*jiraclient.BulkCreateOutcome, error) {
	outcome := &jiraclient.BulkCreateOutcome{}
	for range fieldSets {
		outcome.Created = append(outcome.Created, jiraclient.CreatedIssue{Key: "PRJ-10"})
	}
	return outcome, nil
}

func (stubBackend) UpdateFields(context.Context, string, map[string]any) error { return nil }
func (stubBackend) MoveToSprint(context.Context, int, []string) error          { return nil }
func (stubBackend) TransitionTo(context.Context, string, string) error         { return nil }
func (stubBackend) AddComment(context.Context, string, string) error           { return nil }

func newTestAgent(t *testing.T, chat *scriptedChat, classifier convo.Classifier) *Agent {
	t.Helper()
	logger := zap.NewNop()
	store := cache.NewStore(map[string]cache.Backend{"proj": stubBackend{}}, logger)
	dispatcher := tools.NewDispatcher(map[string]tools.Backend{"proj": stubBackend{}}, store, logger)
	executor := mutate.NewExecutor(map[string]mutate.Backend{"proj": stubBackend{}}, store, logger)
	pass := audit.StaticVerifier{Result: audit.Result{Verdict: audit.Pass}}
	return New(chat, "gpt", dispatcher, executor, classifier, pass, pass, pass, logger)
}

func runTurn(t *testing.T, ag *Agent, session *Session, message string) []types.Event {
	t.Helper()
	var events []types.Event
	ag.RunTurn(context.Background(), session, message, func(ev types.Event) {
		events = append(events, ev)
	})
	return events
}

func eventTypes(events []types.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestTurnWithToolCallThenAnswer(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolSprintStatus, `{}`),
		contentResponse("Sprint 7 has 1 issue, all done."),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	events := runTurn(t, ag, session, "how is the sprint going?")

	seen := eventTypes(events)
	assert.Contains(t, seen, types.EventToolCall)
	assert.Contains(t, seen, types.EventToolResult)
	assert.Contains(t, seen, types.EventContentChunk)
	assert.Contains(t, seen, types.EventReviewDone)
	assert.Equal(t, types.EventDone, seen[len(seen)-1], "done must be terminal")

	// The answer lands in history for the next turn's digest.
	last := session.History[len(session.History)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Contains(t, last.Content, "Sprint 7")
}

func TestTurnEndsCleanlyOnTransportError(t *testing.T) {
	chat := &scriptedChat{err: errors.New("gateway timeout")}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})

	events := runTurn(t, ag, newSession("s1", "proj"), "hello")

	seen := eventTypes(events)
	require.Len(t, seen, 2)
	assert.Equal(t, types.EventError, seen[0])
	assert.Equal(t, types.EventDone, seen[1])
}

func TestIterationCap(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolListSprints, `{}`),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})

	events := runTurn(t, ag, newSession("s1", "proj"), "loop forever please")

	assert.Equal(t, maxIterations, chat.calls)
	seen := eventTypes(events)
	assert.Equal(t, types.EventWarning, seen[len(seen)-2])
	assert.Equal(t, types.EventDone, seen[len(seen)-1])
}

func TestMalformedToolArgumentsAreNotFatal(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolSprintStatus, `{"sprint_number": `),
		contentResponse("done"),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})

	events := runTurn(t, ag, newSession("s1", "proj"), "status?")
	seen := eventTypes(events)
	assert.Contains(t, seen, types.EventToolResult)
	assert.NotContains(t, seen, types.EventError)
}

func TestMutationIsGatedBehindConfirmation(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolCreateIssues,
			`{"issues": [{"summary": "set up CI", "assignee": "john"}]}`),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	events := runTurn(t, ag, session, "create a CI task for john")

	var action *types.PendingAction
	for _, ev := range events {
		if ev.Type == types.EventConfirmation {
			action = ev.Data.(*types.PendingAction)
		}
	}
	require.NotNil(t, action, "mutating tools must emit confirmation-required")
	assert.Equal(t, tools.ToolCreateIssues, action.ToolName)
	require.Len(t, action.Issues, 1)
	assert.Equal(t, "set up CI", action.Issues[0].Summary)
	require.NotNil(t, action.Audit)
	assert.Equal(t, audit.Pass, action.Audit.Verdict)

	assert.Equal(t, types.EventDone, events[len(events)-1].Type)

	// Nothing executed; the action is parked on the session.
	_, ok := session.Pending[action.ID]
	assert.True(t, ok)
}

func TestMutationWithoutIssuesFeedsErrorToModel(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolCreateIssues, `{"count": 2}`),
		contentResponse("I need the issue details first."),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	events := runTurn(t, ag, session, "create the tasks")

	// The model got the error back and answered on the next iteration.
	assert.Equal(t, 2, chat.calls)
	seen := eventTypes(events)
	assert.Contains(t, seen, types.EventToolResult)
	assert.NotContains(t, seen, types.EventConfirmation)
	assert.Equal(t, types.EventDone, seen[len(seen)-1])
	assert.Empty(t, session.Pending)
}

func TestConfirmRunsExecutorAndPreservesSummaries(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolCreateIssues,
			`{"issues": [{"summary": "set up CI"}, {"summary": "write runbook"}]}`),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	events := runTurn(t, ag, session, "create two ops tasks")
	var action *types.PendingAction
	for _, ev := range events {
		if ev.Type == types.EventConfirmation {
			action = ev.Data.(*types.PendingAction)
		}
	}
	require.NotNil(t, action)

	result, err := ag.Confirm(context.Background(), session, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, "set up CI", result.Results[0].Summary)
	assert.Equal(t, "write runbook", result.Results[1].Summary)

	// Confirming twice must not re-execute.
	_, err = ag.Confirm(context.Background(), session, action.ID)
	assert.Error(t, err)
}

func TestCancelDropsPendingAction(t *testing.T) {
	ag := newTestAgent(t, &scriptedChat{responses: []openai.ChatCompletionResponse{
		toolResponse(tools.ToolUpdateIssues, `{"issues": [{"key": "PRJ-1", "status": "Done"}]}`),
	}}, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	events := runTurn(t, ag, session, "close PRJ-1")
	var action *types.PendingAction
	for _, ev := range events {
		if ev.Type == types.EventConfirmation {
			action = ev.Data.(*types.PendingAction)
		}
	}
	require.NotNil(t, action)

	require.NoError(t, ag.Cancel(session, action.ID))
	assert.Empty(t, session.Pending)
	assert.Error(t, ag.Cancel(session, action.ID))
}

func TestFreshTurnDiscardsHistory(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		contentResponse("starting over"),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Fresh})
	session := newSession("s1", "proj")
	session.History = []types.ConversationTurn{
		{Role: "user", Content: "about payments in sprint 7"},
		{Role: "assistant", Content: "PRJ-1 covers payments"},
	}

	runTurn(t, ag, session, "unrelated: plan the mobile release")

	// Old turns are gone; only this turn's user message and answer remain.
	require.Len(t, session.History, 2)
	assert.Equal(t, "unrelated: plan the mobile release", session.History[0].Content)
}

func TestContinuingTurnInjectsDigest(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		contentResponse("as discussed"),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")
	session.History = []types.ConversationTurn{
		{Role: "user", Content: "what is left in sprint 7?"},
		{Role: "assistant", Content: "PRJ-9 and PRJ-12 remain in sprint 7, 8 points total"},
	}

	runTurn(t, ag, session, "assign them to @maria")

	// The digest rides in the model's working context for this turn.
	require.NotEmpty(t, chat.reqs)
	var digest string
	for _, msg := range chat.reqs[0].Messages {
		if msg.Role == openai.ChatMessageRoleSystem && strings.Contains(msg.Content, "PRJ-9") {
			digest = msg.Content
		}
	}
	require.NotEmpty(t, digest, "continuing turns carry a digest of the last answer")
	assert.Contains(t, digest, "PRJ-12")
}

func TestDigestDoesNotAccumulateInHistory(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		contentResponse("PRJ-9 is still open in sprint 7"),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")
	session.History = []types.ConversationTurn{
		{Role: "user", Content: "what is left in sprint 7?"},
		{Role: "assistant", Content: "PRJ-9 and PRJ-12 remain in sprint 7"},
	}

	runTurn(t, ag, session, "and now?")
	runTurn(t, ag, session, "still?")

	for _, turn := range session.History {
		assert.NotEqual(t, "system", turn.Role, "durable history must hold only user and assistant turns")
	}
}

func TestSessionsRegistry(t *testing.T) {
	reg := NewSessions()
	a := reg.GetOrCreate("s1", "proj")
	assert.Same(t, a, reg.GetOrCreate("s1", "proj"))

	b := reg.GetOrCreate("s1", "other-proj")
	assert.NotSame(t, a, b)
}

func TestChunks(t *testing.T) {
	assert.Nil(t, chunks("", 10))
	assert.Equal(t, []string{"short"}, chunks("short", 10))

	got := chunks("alpha beta gamma delta", 11)
	assert.Equal(t, []string{"alpha beta", "gamma delta"}, got)
}

func TestChunksKeepRunesIntact(t *testing.T) {
	text := strings.Repeat("é", 8)

	got := chunks(text, 5)
	assert.Equal(t, text, strings.Join(got, ""))
	for _, chunk := range got {
		assert.True(t, utf8.ValidString(chunk), "chunk %q tears a rune", chunk)
	}
}

func TestCSVUploadWaitsForInFlightTurn(t *testing.T) {
	chat := &scriptedChat{responses: []openai.ChatCompletionResponse{
		contentResponse("ok"),
	}}
	ag := newTestAgent(t, chat, convo.StaticClassifier{Answer: convo.Continuing})
	session := newSession("s1", "proj")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ag.RunTurn(context.Background(), session, "hello", func(types.Event) {})
	}()
	go func() {
		defer wg.Done()
		session.SetCSV([]map[string]string{{"team": "payments"}})
	}()
	wg.Wait()

	require.Len(t, session.ToolState.CSVRows, 1)
	require.NotEmpty(t, session.History)
}
