package shellexec

import (
	"context"
	"testing"
	"time"

	"github.com/2389-research/quoracle/internal/ids"
)

func TestCommandSyncFastPath(t *testing.T) {
	e := New(".", WithAsyncThreshold(time.Second))
	res, err := e.Command().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Async {
		t.Fatalf("expected sync result for a fast command")
	}
	r, ok := res.Value.(Result)
	if !ok {
		t.Fatalf("expected Result value, got %T", res.Value)
	}
	if r.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", r.ExitCode)
	}
}

func TestCommandAsyncContinuation(t *testing.T) {
	e := New(".", WithAsyncThreshold(20*time.Millisecond))
	res, err := e.Command().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"command": "sleep 0.2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Async {
		t.Fatalf("expected async result for a slow command")
	}
	select {
	case cont := <-res.Continuation:
		if cont.Err != nil {
			t.Fatalf("unexpected continuation error: %v", cont.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for continuation")
	}
}

func TestCommandMissingRequiresCommandParam(t *testing.T) {
	e := New(".")
	_, err := e.Command().Execute(context.Background(), ids.AgentID("a1"), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing command param")
	}
}

func TestStatusUnknownCommandID(t *testing.T) {
	e := New(".")
	res, err := e.Status().Execute(context.Background(), ids.AgentID("a1"), map[string]any{"command_id": "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, _ := res.Value.(map[string]any)
	if m["status"] != "not_found" {
		t.Fatalf("expected not_found status, got %v", m["status"])
	}
}
