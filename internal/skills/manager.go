package skills

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miniagent/miniagent/internal/aerrors"
)

// skillFilename is the expected filename inside a skill directory.
const skillFilename = "SKILL.md"

// Manager discovers skills from an ordered list of directories and serves
// them by name. Later directories take precedence on name conflicts. A
// fsnotify watcher keeps the catalog fresh while the process runs.
type Manager struct {
	dirs   []string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewManager creates a Manager over dirs (increasing precedence) and runs
// the initial discovery. Missing directories are skipped silently.
func NewManager(dirs []string) *Manager {
	m := &Manager{
		dirs:    dirs,
		logger:  slog.Default().With("component", "skills"),
		entries: map[string]*Entry{},
	}
	m.Reload()
	return m
}

// Reload rescans all directories and swaps in the fresh catalog.
func (m *Manager) Reload() {
	fresh := map[string]*Entry{}
	for priority, dir := range m.dirs {
		for _, entry := range m.scanDir(dir, priority) {
			existing, ok := fresh[entry.Name]
			if ok && existing.Priority > entry.Priority {
				continue
			}
			fresh[entry.Name] = entry
		}
	}

	m.mu.Lock()
	m.entries = fresh
	m.mu.Unlock()
	m.logger.Info("discovered skills", "count", len(fresh))
}

// scanDir finds skills in one directory: either <dir>/<name>/SKILL.md or a
// flat <dir>/<name>.md file.
func (m *Manager) scanDir(dir string, priority int) []*Entry {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		m.logger.Warn("failed to read skills directory", "path", dir, "error", err)
		return nil
	}

	var found []*Entry
	for _, de := range dirEntries {
		var path string
		switch {
		case de.IsDir():
			path = filepath.Join(dir, de.Name(), skillFilename)
			if _, err := os.Stat(path); err != nil {
				continue
			}
		case strings.HasSuffix(de.Name(), ".md"):
			path = filepath.Join(dir, de.Name())
		default:
			continue
		}

		entry, err := ParseFile(path)
		if err != nil {
			m.logger.Warn("skipping invalid skill", "path", path, "error", err)
			continue
		}
		entry.Priority = priority
		found = append(found, entry)
	}
	return found
}

// List returns all skills sorted by name.
func (m *Manager) List() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the skill with the given name.
func (m *Manager) Get(name string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[name]
	if !ok {
		return nil, aerrors.Newf(aerrors.KindNotFound, "skill not found: %s", name)
	}
	return entry, nil
}

// Watch reloads the catalog when any skills directory changes. It blocks
// until ctx is cancelled and is intended to run in its own goroutine.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return aerrors.Wrap(aerrors.KindIO, "create skills watcher", err)
	}
	defer watcher.Close()

	watching := false
	for _, dir := range m.dirs {
		if err := watcher.Add(dir); err == nil {
			watching = true
		}
	}
	if !watching {
		// No skills directory exists yet; nothing to watch.
		<-ctx.Done()
		return nil
	}

	// Editors fire bursts of events per save; debounce into one reload.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("skills watcher error", "error", err)
		case <-pending:
			pending = nil
			m.Reload()
		}
	}
}
