// Package convo decides what conversation context survives into a new turn
// and keeps the working message list bounded.
package convo

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/clintrovert/excelsior/pkg/types"
)

// Classifications.
const (
	Fresh      = "fresh"
	Continuing = "continuing"
)

// Classifier decides whether a new message starts a fresh line of work or
// continues the prior one.
type Classifier interface {
	Classify(ctx context.Context, history []types.ConversationTurn, message string) string
}

// ChatClient is the completion surface the LLM classifier uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// StaticClassifier always returns a fixed classification. Used in tests and
// when no model is configured (everything continues).
type StaticClassifier struct {
	Answer string
}

// Classify returns the fixed answer.
func (s StaticClassifier) Classify(context.Context, []types.ConversationTurn, string) string {
	return s.Answer
}

// LLMClassifier asks the model whether the new message changes topic.
// Any transport failure classifies as continuing, which only costs prompt
// space, never context the user wanted kept.
type LLMClassifier struct {
	client ChatClient
	model  string
	logger *zap.Logger
}

// NewLLMClassifier creates the model-backed classifier.
func NewLLMClassifier(client ChatClient, model string, logger *zap.Logger) *LLMClassifier {
	return &LLMClassifier{client: client, model: model, logger: logger}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, history []types.ConversationTurn, message string) string {
	if len(history) == 0 {
		return Fresh
	}

	var sb strings.Builder
	sb.WriteString("Conversation so far (summarized):\n")
	for _, turn := range tail(history, 6) {
		sb.WriteString("- " + turn.Role + ": " + clip(turn.Content, 200) + "\n")
	}
	sb.WriteString("\nNew message:\n" + message + "\n\n")
	sb.WriteString("Is the new message a FRESH request about a different matter, or CONTINUING the conversation above? Reply with exactly FRESH or CONTINUING.")

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("turn classifier unavailable, keeping history", zap.Error(err))
		return Continuing
	}
	if len(resp.Choices) == 0 {
		return Continuing
	}

	reply := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	if strings.HasPrefix(reply, "FRESH") {
		return Fresh
	}
	return Continuing
}

func tail(turns []types.ConversationTurn, n int) []types.ConversationTurn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
