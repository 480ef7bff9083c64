package models

import (
	"encoding/json"
	"time"
)

// ContextEntry is a stored full tool output, addressed by an opaque pointer.
// Entries are immutable once written.
type ContextEntry struct {
	PointerID      string          `json:"pointer_id"`
	ToolName       string          `json:"tool_name"`
	Arguments      json.RawMessage `json:"arguments"`
	FullResultText string          `json:"full_result_text"`
	CreatedAt      time.Time       `json:"created_at"`
}
