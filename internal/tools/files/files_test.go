package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return w
}

func TestWriteThenRead(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	out, err := w.writeFile(ctx, json.RawMessage(`{"path":"notes/todo.txt","content":"buy milk"}`))
	if err != nil {
		t.Fatalf("writeFile: %v", err)
	}
	if !strings.Contains(out, "todo.txt") {
		t.Errorf("write output = %q", out)
	}

	got, err := w.readFile(ctx, json.RawMessage(`{"path":"notes/todo.txt"}`))
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	if got != "buy milk" {
		t.Errorf("content = %q", got)
	}
}

func TestReadMissingFile(t *testing.T) {
	w := newWorkspace(t)
	_, err := w.readFile(context.Background(), json.RawMessage(`{"path":"absent.txt"}`))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestListDir(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(w.root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.root, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := w.listDir(ctx, json.RawMessage(`{"path":"."}`))
	if err != nil {
		t.Fatalf("listDir: %v", err)
	}
	if !strings.Contains(got, "a.txt") || !strings.Contains(got, "sub/") {
		t.Errorf("listing = %q", got)
	}
}

func TestPathsCannotEscapeWorkspace(t *testing.T) {
	w := newWorkspace(t)
	ctx := context.Background()

	for _, path := range []string{"../outside.txt", "../../etc/passwd", "a/../../b"} {
		args, _ := json.Marshal(map[string]string{"path": path, "content": "x"})
		// Join after cleaning keeps these inside the root, so either the
		// call succeeds against an in-root path or it is rejected; it must
		// never touch the parent directory.
		_, _ = w.writeFile(ctx, args)
	}
	parent := filepath.Dir(w.root)
	if _, err := os.Stat(filepath.Join(parent, "outside.txt")); !os.IsNotExist(err) {
		t.Error("write escaped the workspace root")
	}
}

func TestReadTruncatesLargeFiles(t *testing.T) {
	w := newWorkspace(t)
	big := strings.Repeat("z", maxReadBytes+1000)
	if err := os.WriteFile(filepath.Join(w.root, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := w.readFile(context.Background(), json.RawMessage(`{"path":"big.txt"}`))
	if err != nil {
		t.Fatalf("readFile: %v", err)
	}
	if !strings.Contains(got, "[truncated") {
		t.Error("large read not marked truncated")
	}
	if len(got) > maxReadBytes+200 {
		t.Errorf("truncated read still %d bytes", len(got))
	}
}
