// Package aerrors defines the shared error taxonomy for the agent runtime.
//
// Every error that crosses a component boundary is classified by a Kind so
// the loop, the HTTP layer, and the metrics can react without string
// matching: tool-scope kinds are recovered inside the loop, NotFound maps to
// 404 on read endpoints, LLMRateLimit marks the retryable subset of LLMError.
package aerrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation decisions.
type Kind string

const (
	// KindBadArguments indicates tool arguments failed schema validation.
	KindBadArguments Kind = "bad_arguments"

	// KindNotFound indicates a missing session, pointer, tool, or skill.
	KindNotFound Kind = "not_found"

	// KindToolTimeout indicates a tool exceeded its per-call timeout.
	KindToolTimeout Kind = "tool_timeout"

	// KindToolFailed indicates a tool handler returned an error.
	KindToolFailed Kind = "tool_failed"

	// KindLLMError indicates a provider call failed.
	KindLLMError Kind = "llm_error"

	// KindLLMRateLimit is the retryable subset of LLMError.
	KindLLMRateLimit Kind = "llm_rate_limit"

	// KindCancelled indicates the query's context was cancelled.
	KindCancelled Kind = "cancelled"

	// KindIO indicates a storage read or write failed.
	KindIO Kind = "io_error"

	// KindConfig indicates invalid or missing startup configuration.
	KindConfig Kind = "config_error"
)

// Error carries a kind alongside a human-readable message and an optional
// wrapped cause. The message is safe to surface to clients; the cause is not.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the kind of an error. Context cancellation is classified
// as KindCancelled even when it bubbles up unwrapped; anything else without
// an explicit kind reports KindToolFailed at tool scope boundaries, so
// callers that need a default should use Is instead.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindToolTimeout, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// MessageOf returns the client-safe message of an error: the Message of a
// classified Error, or a generic fallback for unclassified errors.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
