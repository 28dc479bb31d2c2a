package types

// Event types emitted by the orchestration loop, in the order the UI may
// observe them within a turn. Done is always the terminal event.
const (
	EventReasoning    = "reasoning-note"
	EventToolCall     = "tool-call"
	EventToolResult   = "tool-result"
	EventContentChunk = "content-chunk"
	EventStructured   = "structured-data"
	EventConfirmation = "confirmation-required"
	EventWarning      = "warning"
	EventReviewDone   = "review-complete"
	EventError        = "error"
	EventDone         = "done"
)

// Event is one element of the turn's ordered event stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
