package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

const (
	sessionsSubdir = "sessions"
	metadataSubdir = "session_metadata"

	// displayNameLimit truncates the auto-derived display name.
	displayNameLimit = 40
)

// FileStore is the flat-file Store implementation. Each session is one JSONL
// log plus one metadata JSON document; writes hold a per-key lock so there is
// a single writer per session at any time.
type FileStore struct {
	root   string
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewFileStore creates a FileStore rooted at dir, creating the layout on
// first use.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{sessionsSubdir, metadataSubdir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, aerrors.Wrap(aerrors.KindIO, "create session store layout", err)
		}
	}
	return &FileStore{
		root:   dir,
		logger: slog.Default().With("component", "sessions"),
		locks:  map[string]*keyLock{},
	}, nil
}

// lockKey acquires the per-key write lock and returns its release func.
// Locks are refcounted so the map does not grow with dead sessions.
func (s *FileStore) lockKey(key string) func() {
	s.locksMu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &keyLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

func (s *FileStore) logPath(key string) string {
	return filepath.Join(s.root, sessionsSubdir, SafeKey(key)+".jsonl")
}

func (s *FileStore) metaPath(key string) string {
	return filepath.Join(s.root, metadataSubdir, SafeKey(key)+".json")
}

func (s *FileStore) Append(ctx context.Context, key string, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	unlock := s.lockKey(SafeKey(key))
	defer unlock()

	line, err := json.Marshal(msg)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "encode message", err)
	}

	f, err := os.OpenFile(s.logPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "open session log", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return aerrors.Wrap(aerrors.KindIO, "append message", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return aerrors.Wrap(aerrors.KindIO, "sync session log", err)
	}
	if err := f.Close(); err != nil {
		return aerrors.Wrap(aerrors.KindIO, "close session log", err)
	}

	return s.touchMeta(key, msg)
}

// touchMeta updates the metadata document under the already-held key lock.
func (s *FileStore) touchMeta(key string, msg *models.Message) error {
	meta, err := s.readMeta(key)
	now := time.Now().UTC()
	if err != nil {
		meta = &models.SessionMeta{CreatedAt: now}
	}
	if meta.DisplayName == "" && msg.Role == models.RoleUser {
		meta.DisplayName = truncateName(msg.Content)
	}
	meta.UpdatedAt = now

	data, err := json.Marshal(meta)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "encode session metadata", err)
	}
	if err := os.WriteFile(s.metaPath(key), data, 0o644); err != nil {
		return aerrors.Wrap(aerrors.KindIO, "write session metadata", err)
	}
	return nil
}

func (s *FileStore) readMeta(key string) (*models.SessionMeta, error) {
	data, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		return nil, err
	}
	var meta models.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *FileStore) List(ctx context.Context, key string) ([]*models.Message, error) {
	f, err := os.Open(s.logPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, aerrors.Newf(aerrors.KindNotFound, "session not found: %s", SafeKey(key))
		}
		return nil, aerrors.Wrap(aerrors.KindIO, "open session log", err)
	}
	defer f.Close()

	var msgs []*models.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// A torn tail from a crash mid-write is expected; skip it.
			s.logger.Warn("skipping unparsable session log line", "key", SafeKey(key), "error", err)
			continue
		}
		msgs = append(msgs, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "read session log", err)
	}
	return msgs, nil
}

func (s *FileStore) ListSessions(ctx context.Context) ([]*models.SessionInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, metadataSubdir))
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindIO, "read metadata dir", err)
	}

	infos := make([]*models.SessionInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		meta, err := s.readMeta(key)
		if err != nil {
			s.logger.Warn("skipping unreadable session metadata", "key", key, "error", err)
			continue
		}
		infos = append(infos, &models.SessionInfo{
			Key:       key,
			Name:      meta.DisplayName,
			UpdatedAt: meta.UpdatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

func (s *FileStore) Rename(ctx context.Context, key, newName string) error {
	unlock := s.lockKey(SafeKey(key))
	defer unlock()

	meta, err := s.readMeta(key)
	if err != nil {
		if os.IsNotExist(err) {
			return aerrors.Newf(aerrors.KindNotFound, "session not found: %s", SafeKey(key))
		}
		return aerrors.Wrap(aerrors.KindIO, "read session metadata", err)
	}
	meta.DisplayName = newName
	meta.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(meta)
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "encode session metadata", err)
	}
	if err := os.WriteFile(s.metaPath(key), data, 0o644); err != nil {
		return aerrors.Wrap(aerrors.KindIO, "write session metadata", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	unlock := s.lockKey(SafeKey(key))
	defer unlock()

	logErr := os.Remove(s.logPath(key))
	metaErr := os.Remove(s.metaPath(key))
	if os.IsNotExist(logErr) && os.IsNotExist(metaErr) {
		return aerrors.Newf(aerrors.KindNotFound, "session not found: %s", SafeKey(key))
	}
	for _, err := range []error{logErr, metaErr} {
		if err != nil && !os.IsNotExist(err) {
			return aerrors.Wrap(aerrors.KindIO, "delete session", err)
		}
	}
	return nil
}

func truncateName(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= displayNameLimit {
		return content
	}
	// Back off to a rune boundary so the name stays valid UTF-8.
	cut := displayNameLimit
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
