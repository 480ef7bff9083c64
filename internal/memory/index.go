// Package memory stores short question/answer summaries per session and
// retrieves the most relevant recent ones by keyword overlap with a recency
// decay. Retrieval is bounded; storage is not.
package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

const (
	memorySubdir = "memory"

	// halfLifeDays controls how fast old memories fade out of recall.
	halfLifeDays = 7.0

	// DefaultRecallK is the default number of entries returned by Recall.
	DefaultRecallK = 3
)

// stopwords are excluded from keyword extraction. Small fixed list; anything
// fancier belongs in an embedding-based rewrite.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "this": true,
	"to": true, "was": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "will": true, "with": true,
	"you": true, "your": true,
}

// Index is the keyword-and-recency memory store. Writes go through a single
// writer lock per index; reads operate on a snapshot of the in-memory cache.
type Index struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string][]*models.MemoryEntry // sessionKey -> entries, insertion order
}

// NewIndex creates an Index rooted at dir.
func NewIndex(dir string) (*Index, error) {
	if err := os.MkdirAll(filepath.Join(dir, memorySubdir), 0o755); err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "create memory layout", err)
	}
	return &Index{
		root:   dir,
		logger: slog.Default().With("component", "memory"),
		cache:  map[string][]*models.MemoryEntry{},
	}, nil
}

// Record stores one question/answer summary for the session.
func (ix *Index) Record(ctx context.Context, sessionKey, question, answerSummary string) error {
	entry := &models.MemoryEntry{
		ID:            uuid.NewString(),
		SessionKey:    sessionKey,
		Question:      question,
		AnswerSummary: answerSummary,
		Keywords:      Tokenize(question + " " + answerSummary),
		CreatedAt:     time.Now().UTC(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "encode memory entry", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.loadLocked(sessionKey); err != nil {
		return err
	}

	f, err := os.OpenFile(ix.path(sessionKey), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "open memory log", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return aerrors.Wrap(aerrors.KindIO, "append memory entry", err)
	}
	if err := f.Close(); err != nil {
		return aerrors.Wrap(aerrors.KindIO, "close memory log", err)
	}

	ix.cache[sessionKey] = append(ix.cache[sessionKey], entry)
	return nil
}

// Recall returns up to k entries of the same session scored by keyword
// overlap with the query weighted by recency. Ties break toward recency.
func (ix *Index) Recall(ctx context.Context, sessionKey, query string, k int) ([]*models.MemoryEntry, error) {
	if k <= 0 {
		k = DefaultRecallK
	}
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	entries, err := ix.snapshot(sessionKey)
	if err != nil {
		return nil, err
	}

	type scored struct {
		entry *models.MemoryEntry
		score float64
	}
	now := time.Now().UTC()
	var candidates []scored
	for _, entry := range entries {
		ov := overlap(queryTokens, entry.Keywords)
		if ov == 0 {
			continue
		}
		ageDays := now.Sub(entry.CreatedAt).Hours() / 24
		score := float64(ov) * math.Exp(-ageDays/halfLifeDays)
		candidates = append(candidates, scored{entry, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.CreatedAt.After(candidates[j].entry.CreatedAt)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]*models.MemoryEntry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out, nil
}

// snapshot returns the session's entries, loading the file on first access.
func (ix *Index) snapshot(sessionKey string) ([]*models.MemoryEntry, error) {
	ix.mu.RLock()
	entries, ok := ix.cache[sessionKey]
	ix.mu.RUnlock()
	if ok {
		return entries, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loadLocked(sessionKey)
}

func (ix *Index) loadLocked(sessionKey string) ([]*models.MemoryEntry, error) {
	if entries, ok := ix.cache[sessionKey]; ok {
		return entries, nil
	}

	f, err := os.Open(ix.path(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			ix.cache[sessionKey] = nil
			return nil, nil
		}
		return nil, aerrors.Wrap(aerrors.KindIO, "open memory log", err)
	}
	defer f.Close()

	var entries []*models.MemoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry models.MemoryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			ix.logger.Warn("skipping unparsable memory line", "session", sessionKey, "error", err)
			continue
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "read memory log", err)
	}
	ix.cache[sessionKey] = entries
	return entries, nil
}

func (ix *Index) path(sessionKey string) string {
	return filepath.Join(ix.root, memorySubdir, sessionKey+".jsonl")
}

// Tokenize lowercases, splits on non-alphanumerics, and drops stopwords and
// single-character fragments. Duplicates are removed, order preserved.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	seen := map[string]bool{}
	var tokens []string
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

func overlap(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	n := 0
	for _, t := range a {
		if set[t] {
			n++
		}
	}
	return n
}
