// Package sessions persists conversation history as append-only JSONL logs,
// one file per session, with a small metadata document alongside.
package sessions

import (
	"context"

	"github.com/miniagent/miniagent/pkg/models"
)

// Store is the interface for session persistence.
type Store interface {
	// Append durably records one message at the end of the session log,
	// creating the session on first write.
	Append(ctx context.Context, key string, msg *models.Message) error

	// List returns the session's messages in insertion order.
	List(ctx context.Context, key string) ([]*models.Message, error)

	// ListSessions returns all known sessions sorted by UpdatedAt descending.
	ListSessions(ctx context.Context) ([]*models.SessionInfo, error)

	// Rename updates the session's display name.
	Rename(ctx context.Context, key, newName string) error

	// Delete removes the session log and its metadata.
	Delete(ctx context.Context, key string) error
}
