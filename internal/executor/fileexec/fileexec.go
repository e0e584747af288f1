// ABOUTME: ActionExecutor family for file_read/file_write actions, rooted and path-confined to one directory.
// ABOUTME: Adapted from agent/exec_local.go's ReadFile/WriteFile/ListDirectory, generalized to capability-gated roots.
package fileexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// Executor confines every file_read/file_write action to paths under Root.
// The capability check (file_read vs file_write group membership) happens
// upstream in the Router before Execute is ever called; Executor only
// enforces the root confinement, which applies regardless of capability.
type Executor struct {
	Root string
}

// New creates a file Executor rooted at root.
func New(root string) *Executor { return &Executor{Root: root} }

// Reader returns the ActionExecutor to register under "file_read".
func (e *Executor) Reader() router.ActionExecutor { return readExecutor{e} }

// Writer returns the ActionExecutor to register under "file_write".
func (e *Executor) Writer() router.ActionExecutor { return writeExecutor{e} }

// resolve joins a request path onto Root and rejects any path that escapes it.
func (e *Executor) resolve(path string) (string, error) {
	full := filepath.Join(e.Root, path)
	rootAbs, err := filepath.Abs(e.Root)
	if err != nil {
		return "", err
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("fileexec: path %q escapes root %q", path, e.Root)
	}
	return fullAbs, nil
}

type readExecutor struct{ e *Executor }

func (r readExecutor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return router.ExecResult{}, fmt.Errorf("fileexec: missing required %q param", "path")
	}
	full, err := r.e.resolve(path)
	if err != nil {
		return router.ExecResult{}, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("fileexec: read %s: %w", path, err)
	}
	return router.ExecResult{Value: map[string]any{"path": path, "content": string(data)}}, nil
}

type writeExecutor struct{ e *Executor }

func (w writeExecutor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return router.ExecResult{}, fmt.Errorf("fileexec: missing required %q param", "path")
	}
	content, _ := params["content"].(string)

	full, err := w.e.resolve(path)
	if err != nil {
		return router.ExecResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return router.ExecResult{}, fmt.Errorf("fileexec: create directories for %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return router.ExecResult{}, fmt.Errorf("fileexec: write %s: %w", path, err)
	}
	return router.ExecResult{Value: map[string]any{"path": path, "bytes_written": len(content)}}, nil
}
