package models

import "encoding/json"

// EventType identifies an agent stream event.
type EventType string

const (
	EventThinking    EventType = "thinking"
	EventToolStart   EventType = "tool_start"
	EventToolEnd     EventType = "tool_end"
	EventToolError   EventType = "tool_error"
	EventToolLimit   EventType = "tool_limit"
	EventAnswerStart EventType = "answer_start"
	EventAnswerChunk EventType = "answer_chunk"
	EventDone        EventType = "done"
)

// AgentEvent is one event in a query's ordered stream. Exactly the fields
// relevant to the Type are populated; the zero values of the rest are elided
// from the wire encoding so each SSE frame matches its documented shape.
type AgentEvent struct {
	Type EventType `json:"type"`

	// thinking
	Message string `json:"message,omitempty"`

	// tool_start / tool_end / tool_error
	Tool       string          `json:"tool,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`

	// tool_limit
	Reason string `json:"reason,omitempty"`

	// answer_chunk
	Chunk string `json:"chunk,omitempty"`

	// done; MarshalJSON keeps these mandatory on the done frame
	Answer     string        `json:"answer,omitempty"`
	Iterations int           `json:"iterations,omitempty"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
}

// doneFrame is the wire shape of the done event. Unlike the other frames,
// answer, iterations, and tool_calls are always present, even when zero.
type doneFrame struct {
	Type       EventType     `json:"type"`
	Answer     string        `json:"answer"`
	Iterations int           `json:"iterations"`
	ToolCalls  []ToolCallRef `json:"tool_calls"`
}

// MarshalJSON emits the done event with its mandatory fields; every other
// event type elides zero-valued fields as usual.
func (e AgentEvent) MarshalJSON() ([]byte, error) {
	if e.Type == EventDone {
		toolCalls := e.ToolCalls
		if toolCalls == nil {
			toolCalls = []ToolCallRef{}
		}
		return json.Marshal(doneFrame{
			Type:       e.Type,
			Answer:     e.Answer,
			Iterations: e.Iterations,
			ToolCalls:  toolCalls,
		})
	}
	type plain AgentEvent
	return json.Marshal(plain(e))
}

// ToolCallRef is the compact tool-call summary carried by the done event.
type ToolCallRef struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// DoneEvent builds a terminal done event. ToolCalls is never nil so the wire
// form always carries an array, even for tool-free answers.
func DoneEvent(answer string, iterations int, toolCalls []ToolCallRef) AgentEvent {
	if toolCalls == nil {
		toolCalls = []ToolCallRef{}
	}
	return AgentEvent{
		Type:       EventDone,
		Answer:     answer,
		Iterations: iterations,
		ToolCalls:  toolCalls,
	}
}
