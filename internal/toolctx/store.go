// Package toolctx stores full tool outputs off the prompt hot path.
//
// Tool results can be large (a page snapshot, a file blob); inlining them
// into every subsequent prompt inflates token cost quadratically over the
// loop. The store keeps the full text on disk under an opaque pointer and the
// loop inlines only a short head plus the pointer token; a later step can
// re-fetch by pointer.
package toolctx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

const (
	contextSubdir = "context"

	// PointerPrefix makes pointers distinguishable in prose.
	PointerPrefix = "ctx_"

	// DefaultInlineChars is the default head budget for rendered results.
	DefaultInlineChars = 2048
)

// Store persists tool context entries as immutable JSON blobs, one file per
// pointer. It is the sole writer and reader of pointers.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, contextSubdir), 0o755); err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "create context store layout", err)
	}
	return &Store{root: dir}, nil
}

// NewPointer returns a fresh opaque pointer: a short prefix followed by a
// 128-bit random id.
func NewPointer() string {
	return PointerPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Put stores a full tool output and returns its pointer.
func (s *Store) Put(ctx context.Context, toolName string, arguments json.RawMessage, fullResultText string) (string, error) {
	entry := &models.ContextEntry{
		PointerID:      NewPointer(),
		ToolName:       toolName,
		Arguments:      arguments,
		FullResultText: fullResultText,
		CreatedAt:      time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", aerrors.Wrap(aerrors.KindIO, "encode context entry", err)
	}
	path := s.path(entry.PointerID)
	// Write-then-rename keeps partially written blobs invisible to readers.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", aerrors.Wrap(aerrors.KindIO, "write context entry", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", aerrors.Wrap(aerrors.KindIO, "publish context entry", err)
	}
	return entry.PointerID, nil
}

// Get resolves a pointer to its stored entry.
func (s *Store) Get(ctx context.Context, pointerID string) (*models.ContextEntry, error) {
	if !validPointer(pointerID) {
		return nil, aerrors.Newf(aerrors.KindNotFound, "context pointer not found: %s", pointerID)
	}
	data, err := os.ReadFile(s.path(pointerID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, aerrors.Newf(aerrors.KindNotFound, "context pointer not found: %s", pointerID)
		}
		return nil, aerrors.Wrap(aerrors.KindIO, "read context entry", err)
	}
	var entry models.ContextEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "decode context entry", err)
	}
	return &entry, nil
}

// Render returns either the original text when it fits the inline budget, or
// the head of the text followed by a short placeholder naming the pointer
// and the full size.
func (s *Store) Render(ctx context.Context, pointerID string, maxInlineChars int) (string, error) {
	entry, err := s.Get(ctx, pointerID)
	if err != nil {
		return "", err
	}
	return RenderText(entry.FullResultText, pointerID, maxInlineChars), nil
}

// RenderText applies the inline budget to already-loaded text.
func RenderText(text, pointerID string, maxInlineChars int) string {
	if maxInlineChars <= 0 {
		maxInlineChars = DefaultInlineChars
	}
	if len(text) <= maxInlineChars {
		return text
	}
	return fmt.Sprintf("%s\n[truncated: full output at %s, %d bytes]",
		text[:maxInlineChars], pointerID, len(text))
}

func (s *Store) path(pointerID string) string {
	return filepath.Join(s.root, contextSubdir, pointerID+".json")
}

// validPointer rejects anything that is not prefix + hex, so pointers can
// never escape the context directory.
func validPointer(p string) bool {
	if !strings.HasPrefix(p, PointerPrefix) {
		return false
	}
	rest := strings.TrimPrefix(p, PointerPrefix)
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
