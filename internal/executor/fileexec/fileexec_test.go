package fileexec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389-research/quoracle/internal/ids"
)

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	_, err := e.Writer().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"path": "notes/todo.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := e.Reader().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"path": "notes/todo.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m := res.Value.(map[string]any)
	if m["content"] != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", m["content"])
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	_, err := e.Reader().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("expected error for path escaping root")
	}
}

func TestReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	_, err := e.Reader().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"path": filepath.Join("missing.txt")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "missing.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("expected file to not exist")
	}
}
