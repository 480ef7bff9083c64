// Package llm abstracts the completion provider behind a streaming
// interface so the loop and its tests never touch a vendor SDK directly.
package llm

import (
	"context"
	"encoding/json"

	"github.com/miniagent/miniagent/pkg/models"
)

// ToolDef describes one tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is a single completion call.
type Request struct {
	Model       string
	System      string
	Messages    []models.Message
	Tools       []ToolDef
	Temperature float32
	MaxTokens   int
}

// ToolCall is a fully accumulated tool invocation emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Chunk is one unit of a streamed completion. Exactly one of Text, ToolCall,
// or Err is set, except the final chunk which carries Done (possibly with
// Err when the stream failed).
type Chunk struct {
	Text     string
	ToolCall *ToolCall
	Done     bool
	Err      error
}

// Completion is the result of a non-streaming call. The model answers with
// text or asks for tools; when ToolCalls is non-empty any Text is the
// model's narration before acting, not a final answer.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider is the uniform interface over a chat-completion backend.
// Complete is the tool-choice round trip used while reasoning; Stream is the
// token stream used for the final answer and never advertises tools.
// Implementations close the Stream channel after sending a Done chunk;
// callers must drain it.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}
