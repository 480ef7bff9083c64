// Package tools declares the tool catalog exposed to the model and
// dispatches model-emitted tool calls to typed handlers with schema
// validation and per-call timeouts.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Handler executes a tool call. Args have already passed schema validation.
// Handlers must observe ctx cancellation: the registry enforces the timeout,
// but a handler that ignores ctx lingers until its own IO gives up.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Spec describes one callable tool.
type Spec struct {
	// Name is the identifier the model uses to call the tool.
	Name string

	// Description is long-form markdown explaining when to use and not use
	// the tool. It is injected into the system prompt verbatim.
	Description string

	// ArgumentsSchema is the JSON Schema the arguments are validated
	// against before the handler runs.
	ArgumentsSchema json.RawMessage

	// Handler runs the call.
	Handler Handler `json:"-"`

	// Timeout overrides the registry default per-call timeout when > 0.
	Timeout time.Duration

	// Category groups calls for soft-limit accounting (e.g. "search").
	Category string
}
