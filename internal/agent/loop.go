// Package agent runs the bounded reasoning loop that ties the model's tool
// selection to dispatch, mutation gating and audit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/internal/audit"
	"github.com/clintrovert/excelsior/internal/convo"
	"github.com/clintrovert/excelsior/internal/mutate"
	"github.com/clintrovert/excelsior/internal/tools"
	"github.com/clintrovert/excelsior/pkg/types"
)

// maxIterations caps reasoning iterations per turn so a turn terminates no
// matter what the model does.
const maxIterations = 10

const chunkSize = 400

const systemPrompt = "You are a sprint assistant for a software team's issue tracker. " +
	"Answer questions using the provided tools; never invent issue keys, counts or point totals. " +
	"For requests that create or change issues, call the create_issues or update_issues tool with " +
	"exactly what the user asked for; a human reviews every mutation before it runs."

// ChatClient is the completion surface the loop drives. *openai.Client
// satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Agent coordinates one turn end to end.
type Agent struct {
	llm           ChatClient
	model         string
	dispatcher    *tools.Dispatcher
	executor      *mutate.Executor
	classifier    convo.Classifier
	filterAudit   audit.Verifier
	factsAudit    audit.Verifier
	mutationAudit audit.Verifier
	logger        *zap.Logger
}

// New creates an agent.
func New(
	llm ChatClient,
	model string,
	dispatcher *tools.Dispatcher,
	executor *mutate.Executor,
	classifier convo.Classifier,
	filterAudit, factsAudit, mutationAudit audit.Verifier,
	logger *zap.Logger,
) *Agent {
	return &Agent{
		llm:           llm,
		model:         model,
		dispatcher:    dispatcher,
		executor:      executor,
		classifier:    classifier,
		filterAudit:   filterAudit,
		factsAudit:    factsAudit,
		mutationAudit: mutationAudit,
		logger:        logger,
	}
}

// RunTurn processes one user message, emitting the turn's ordered event
// stream. The done event is always emitted last, on every path. The session
// lock is held for the whole turn, so confirm/cancel and CSV uploads on the
// same session wait for the in-flight turn.
func (a *Agent) RunTurn(ctx context.Context, session *Session, message string, emit func(types.Event)) {
	defer emit(types.Event{Type: types.EventDone})

	session.mu.Lock()
	defer session.mu.Unlock()

	digest := a.prepareContext(ctx, session, message)
	session.LastQuestion = message
	session.History = append(session.History, types.ConversationTurn{Role: "user", Content: message})

	messages := a.buildMessages(session, digest)
	catalogue := tools.Catalogue()

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := a.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    catalogue,
		})
		if err != nil {
			a.logger.Error("model call failed", zap.Error(err))
			emit(types.Event{Type: types.EventError, Data: fmt.Sprintf("model unavailable: %v", err)})
			return
		}
		if len(resp.Choices) == 0 {
			emit(types.Event{Type: types.EventError, Data: "model returned no choices"})
			return
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			a.finishTurn(ctx, session, msg.Content, emit)
			return
		}

		if msg.Content != "" {
			emit(types.Event{Type: types.EventReasoning, Data: msg.Content})
		}
		messages = append(messages, msg)

		for _, tc := range msg.ToolCalls {
			call := types.ToolCall{
				Name:      tc.Function.Name,
				Arguments: tools.DecodeArgs(tc.Function.Arguments),
			}

			if tools.IsMutating(call.Name) {
				specs, err := decodeIssueSpecs(call.Arguments)
				if err != nil || len(specs) == 0 {
					// Validation failure: the model gets an error string and
					// may re-issue the call within the iteration budget.
					errMsg := fmt.Sprintf("%s requires a non-empty issues array", call.Name)
					emit(types.Event{Type: types.EventToolResult, Data: map[string]any{
						"name": call.Name, "error": errMsg,
					}})
					messages = append(messages, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    "Error: " + errMsg,
						ToolCallID: tc.ID,
					})
					continue
				}
				a.proposeMutation(ctx, session, call, specs, emit)
				return
			}

			emit(types.Event{Type: types.EventToolCall, Data: map[string]any{
				"name": call.Name, "arguments": call.Arguments,
			}})

			outcome := a.dispatcher.Execute(ctx, session.ToolState, call)

			content := outcome.ForModel
			if outcome.Err != "" {
				content = "Error: " + outcome.Err
				emit(types.Event{Type: types.EventToolResult, Data: map[string]any{
					"name": call.Name, "error": outcome.Err,
				}})
			} else {
				emit(types.Event{Type: types.EventToolResult, Data: map[string]any{
					"name": call.Name, "summary": outcome.Trace,
				}})
				if outcome.Records != nil {
					emit(types.Event{Type: types.EventStructured, Data: outcome.Records})
				}
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
		}
	}

	emit(types.Event{Type: types.EventWarning, Data: "stopped after reaching the reasoning iteration limit"})
}

// prepareContext runs the fresh/continuing decision once per turn. For a
// continuing turn it returns a compact digest of what the last assistant
// reply mentioned; the digest rides in the working message list only and
// never lands in durable history.
func (a *Agent) prepareContext(ctx context.Context, session *Session, message string) string {
	if len(session.History) == 0 {
		return ""
	}

	if a.classifier.Classify(ctx, session.History, message) == convo.Fresh {
		a.logger.Debug("classified as fresh turn, discarding history",
			zap.String("session", session.ID))
		session.Reset()
		return ""
	}

	for i := len(session.History) - 1; i >= 0; i-- {
		if session.History[i].Role != "assistant" {
			continue
		}
		if digest := convo.ExtractDigest(session.History[i].Content); !digest.Empty() {
			return digest.Render()
		}
		break
	}
	return ""
}

func (a *Agent) buildMessages(session *Session, digest string) []openai.ChatCompletionMessage {
	compressed := convo.Compress(session.History)

	messages := make([]openai.ChatCompletionMessage, 0, len(compressed)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	if digest != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: digest,
		})
	}
	for _, turn := range compressed {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	return messages
}

// proposeMutation turns a mutating tool call into a PendingAction: the
// mutation auditor runs now, its verdict rides along on the confirmation
// prompt, and nothing executes until the human confirms. The caller holds
// the session lock.
func (a *Agent) proposeMutation(ctx context.Context, session *Session, call types.ToolCall, specs []types.IssueSpec, emit func(types.Event)) {
	action := &types.PendingAction{
		ID:       uuid.NewString(),
		ToolName: call.Name,
		Issues:   specs,
	}

	verdict := a.mutationAudit.Verify(ctx, audit.Input{
		Request:  session.LastQuestion,
		Proposed: action,
	})
	if verdict.Verdict != audit.Skipped {
		action.Audit = &types.AuditNote{Verdict: verdict.Verdict, Note: verdict.Note}
	}
	if verdict.Verdict == audit.Fail {
		emit(types.Event{Type: types.EventWarning, Data: "mutation review flagged this proposal: " + verdict.Note})
	}

	session.Pending[action.ID] = action

	session.History = append(session.History, types.ConversationTurn{
		Role:    "assistant",
		Content: fmt.Sprintf("Proposed %s for %d issue(s), awaiting confirmation.", call.Name, len(specs)),
	})

	emit(types.Event{Type: types.EventConfirmation, Data: action})
}

// finishTurn streams the final answer and runs the post-hoc audits.
func (a *Agent) finishTurn(ctx context.Context, session *Session, answer string, emit func(types.Event)) {
	session.History = append(session.History, types.ConversationTurn{Role: "assistant", Content: answer})

	for _, chunk := range chunks(answer, chunkSize) {
		emit(types.Event{Type: types.EventContentChunk, Data: chunk})
	}

	facts := session.ToolState.Cached
	if facts != nil {
		if res := a.filterAudit.Verify(ctx, audit.Input{
			Question: session.LastQuestion,
			Filters:  facts.Filters,
		}); res.Verdict == audit.Fail {
			emit(types.Event{Type: types.EventWarning, Data: "filter review: " + res.Note})
		}
		if res := a.factsAudit.Verify(ctx, audit.Input{
			Question: session.LastQuestion,
			Answer:   answer,
			Facts:    facts,
		}); res.Verdict == audit.Fail {
			emit(types.Event{Type: types.EventWarning, Data: "fact review: " + res.Note})
		}
	}
	emit(types.Event{Type: types.EventReviewDone})
}

// Confirm executes a previously proposed action through the mutation
// executor. The human decision is the only thing that triggers execution.
func (a *Agent) Confirm(ctx context.Context, session *Session, actionID string) (*types.BulkOperationResult, error) {
	action, err := session.TakePending(actionID)
	if err != nil {
		return nil, err
	}
	return a.ExecuteMutation(ctx, session.ConfigID, action.ToolName, action.Issues)
}

// Cancel drops a pending action without executing it.
func (a *Agent) Cancel(session *Session, actionID string) error {
	_, err := session.TakePending(actionID)
	return err
}

// ExecuteMutation is the caller-driven mutation path: identical executor
// logic, no reasoning loop involved.
func (a *Agent) ExecuteMutation(ctx context.Context, configID, toolName string, issues []types.IssueSpec) (*types.BulkOperationResult, error) {
	switch toolName {
	case tools.ToolCreateIssues:
		return a.executor.CreateIssues(ctx, configID, issues)
	case tools.ToolUpdateIssues:
		return a.executor.UpdateIssues(ctx, configID, issues)
	default:
		return nil, fmt.Errorf("tool %q is not a mutation", toolName)
	}
}

func decodeIssueSpecs(args map[string]any) ([]types.IssueSpec, error) {
	raw, ok := args["issues"]
	if !ok {
		return nil, fmt.Errorf("missing issues argument")
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var specs []types.IssueSpec
	if err := json.Unmarshal(buf, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// chunks splits text on whitespace boundaries into pieces of at most n
// bytes for the content-chunk stream. A window with no space is cut on a
// rune boundary so no chunk carries a torn UTF-8 sequence.
func chunks(text string, n int) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > n {
		cut := strings.LastIndexByte(text[:n], ' ')
		if cut <= 0 {
			cut = n
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = n
			}
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], " ")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
