// Package audit runs independent LLM-graded checks over filters, facts and
// proposed mutations. Every check fails open: a transport error or an
// unparseable grading reply is reported as skipped, never as a block.
package audit

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/pkg/types"
)

// Verdicts.
const (
	Pass    = "pass"
	Fail    = "fail"
	Skipped = "skipped"
)

// Result is one auditor's verdict.
type Result struct {
	Verdict string
	Note    string
}

// Input carries everything any of the auditors may need. Unused fields are
// ignored by each auditor.
type Input struct {
	Question string
	Answer   string
	Filters  string
	Facts    *types.AuditContext
	Proposed *types.PendingAction
	Request  string
}

// Verifier is one independent check. Implementations must never block a
// turn: on any internal failure they return Skipped.
type Verifier interface {
	Verify(ctx context.Context, in Input) Result
}

// ChatClient is the completion surface the auditors grade through.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StaticVerifier always returns a fixed result. Used for deterministic tests
// and for wiring when no grading model is configured.
type StaticVerifier struct {
	Result Result
}

// Verify returns the fixed result.
func (s StaticVerifier) Verify(context.Context, Input) Result {
	return s.Result
}

type llmVerifier struct {
	client ChatClient
	model  string
	logger *zap.Logger
	name   string
	prompt func(Input) (string, bool)
}

func (v *llmVerifier) Verify(ctx context.Context, in Input) Result {
	prompt, ok := v.prompt(in)
	if !ok {
		return Result{Verdict: Skipped, Note: "nothing to audit"}
	}

	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a strict reviewer. Reply with a single line starting with PASS or FAIL, optionally followed by a short reason.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		v.logger.Warn("auditor transport error, skipping",
			zap.String("auditor", v.name), zap.Error(err))
		return Result{Verdict: Skipped, Note: "audit unavailable"}
	}
	if len(resp.Choices) == 0 {
		return Result{Verdict: Skipped, Note: "empty audit reply"}
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict expects a leading PASS/FAIL (or YES/NO) token. Anything else
// is treated as non-blocking.
func parseVerdict(reply string) Result {
	trimmed := strings.TrimSpace(reply)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return Result{Verdict: Skipped, Note: "empty audit reply"}
	}

	head := strings.ToUpper(strings.Trim(fields[0], ".,:;!"))
	note := strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))
	note = strings.TrimLeft(note, ".,:;- ")

	switch head {
	case "PASS", "YES":
		return Result{Verdict: Pass, Note: note}
	case "FAIL", "NO":
		return Result{Verdict: Fail, Note: note}
	default:
		return Result{Verdict: Skipped, Note: "unparseable audit reply"}
	}
}
