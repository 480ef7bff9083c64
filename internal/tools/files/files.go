// Package files provides filesystem tools rooted in a workspace directory.
// Paths are resolved against the root and may never escape it.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/miniagent/miniagent/internal/tools"
)

// maxReadBytes bounds read_file output; larger files are truncated with a
// note so the model knows to narrow its request.
const maxReadBytes = 256 * 1024

// Workspace exposes read_file, write_file, and list_dir over one root.
type Workspace struct {
	root string
}

// NewWorkspace creates a Workspace rooted at dir.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// resolve maps a tool-supplied relative path onto the root, rejecting
// escapes.
func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	full := filepath.Join(w.root, filepath.Clean("/"+rel))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

func (w *Workspace) readFile(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	full, err := w.resolve(in.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", in.Path, err)
	}
	if len(data) > maxReadBytes {
		return fmt.Sprintf("%s\n[truncated: file is %d bytes, showing first %d]",
			data[:maxReadBytes], len(data), maxReadBytes), nil
	}
	return string(data), nil
}

func (w *Workspace) writeFile(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	full, err := w.resolve(in.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", in.Path, err)
	}
	if err := os.WriteFile(full, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", in.Path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(in.Content), in.Path), nil
}

func (w *Workspace) listDir(ctx context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", err
	}
	full, err := w.resolve(in.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", in.Path, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}

// Specs returns the tool specs for this workspace.
func (w *Workspace) Specs() []*tools.Spec {
	pathSchema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace root"}
		},
		"required": ["path"]
	}`)

	return []*tools.Spec{
		{
			Name: "read_file",
			Description: `Read a text file from the workspace.

Use this to inspect files the user refers to. Paths are relative to the
workspace root; reading outside the workspace is not possible. Large files
are truncated.`,
			ArgumentsSchema: pathSchema,
			Handler:         w.readFile,
		},
		{
			Name: "write_file",
			Description: `Write a text file into the workspace, creating parent directories.

Use this to save generated content the user asked for. Overwrites the file
if it exists.`,
			ArgumentsSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Path relative to the workspace root"},
					"content": {"type": "string", "description": "Full file content"}
				},
				"required": ["path", "content"]
			}`),
			Handler: w.writeFile,
		},
		{
			Name: "list_dir",
			Description: `List the entries of a workspace directory.

Directories are suffixed with a slash. Use "." for the workspace root.`,
			ArgumentsSchema: pathSchema,
			Handler:         w.listDir,
		},
	}
}
