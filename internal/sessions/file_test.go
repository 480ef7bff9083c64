package sessions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestAppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "What is the weather?"},
		{Role: models.RoleAssistant, Content: "Sunny."},
	}
	for _, msg := range msgs {
		if err := store.Append(ctx, "weather", msg); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, "weather")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != models.RoleUser || got[0].Content != "What is the weather?" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Role != models.RoleAssistant {
		t.Errorf("second message role = %s", got[1].Role)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not assigned on append")
	}
}

func TestListMissingSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.List(context.Background(), "nope")
	if !aerrors.Is(err, aerrors.KindNotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestListSkipsTornTail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "torn", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a crash mid-write: a trailing half-record.
	f, err := os.OpenFile(store.logPath("torn"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString(`{"role":"assistant","content":"trunc`); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	got, err := store.List(ctx, "torn")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1 (torn tail skipped)", len(got))
	}
}

func TestDisplayNameDefaultsToFirstUserMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	long := "This is a deliberately long first user message for naming"
	if err := store.Append(ctx, "named", &models.Message{Role: models.RoleUser, Content: long}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "named", &models.Message{Role: models.RoleUser, Content: "second"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	infos, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	if want := long[:displayNameLimit]; infos[0].Name != want {
		t.Errorf("Name = %q, want %q", infos[0].Name, want)
	}
}

func TestDisplayNameCutsOnRuneBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// The limit falls in the middle of the two-byte rune.
	prefix := strings.Repeat("a", displayNameLimit-1)
	if err := store.Append(ctx, "runes", &models.Message{Role: models.RoleUser, Content: prefix + "é summary"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	infos, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("sessions = %d, want 1", len(infos))
	}
	name := infos[0].Name
	if !utf8.ValidString(name) {
		t.Errorf("Name %q is not valid UTF-8", name)
	}
	if name != prefix {
		t.Errorf("Name = %q, want %q", name, prefix)
	}
}

func TestListSessionsSortedByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "old", &models.Message{Role: models.RoleUser, Content: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := store.Append(ctx, "new", &models.Message{Role: models.RoleUser, Content: "b"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	infos, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d, want 2", len(infos))
	}
	if infos[0].Key != "new" {
		t.Errorf("first session = %q, want %q", infos[0].Key, "new")
	}
}

func TestRenameAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Rename(ctx, "ghost", "x"); !aerrors.Is(err, aerrors.KindNotFound) {
		t.Errorf("Rename missing = %v, want not_found", err)
	}
	if err := store.Delete(ctx, "ghost"); !aerrors.Is(err, aerrors.KindNotFound) {
		t.Errorf("Delete missing = %v, want not_found", err)
	}

	if err := store.Append(ctx, "kept", &models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Rename(ctx, "kept", "Renamed"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	infos, _ := store.ListSessions(ctx)
	if len(infos) != 1 || infos[0].Name != "Renamed" {
		t.Errorf("after rename: %+v", infos)
	}

	if err := store.Delete(ctx, "kept"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.List(ctx, "kept"); !aerrors.Is(err, aerrors.KindNotFound) {
		t.Errorf("List after delete = %v, want not_found", err)
	}
	if _, err := os.Stat(filepath.Join(store.root, sessionsSubdir, "kept.jsonl")); !os.IsNotExist(err) {
		t.Error("log file still exists after delete")
	}
}

func TestConcurrentAppendsSameKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Append(ctx, "race", &models.Message{Role: models.RoleUser, Content: "m"})
		}()
	}
	wg.Wait()

	got, err := store.List(ctx, "race")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != n {
		t.Errorf("messages = %d, want %d (appends serialised per key)", len(got), n)
	}
}
