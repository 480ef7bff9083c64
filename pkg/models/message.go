package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's append-only conversation log.
//
// An assistant message produced by the agent loop carries either final text
// or a non-empty ToolCalls trace, never both; history may interleave them as
// separate messages. Tool messages carry the ToolCallID they answer.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ToolCallRecord is the persisted trace of a single tool invocation.
// Result holds the rendered short form (possibly a context pointer); the full
// output lives in the tool context store.
type ToolCallRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// SessionMeta is the small per-session metadata document.
type SessionMeta struct {
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SessionInfo is a listing entry: the safe key plus display metadata.
type SessionInfo struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}
