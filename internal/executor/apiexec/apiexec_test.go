package apiexec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389-research/quoracle/internal/ids"
)

func TestExecuteGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected auth header to be set")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := New(2 * time.Second)
	e.APIKey = "secret"

	res, err := e.Execute(context.Background(), ids.AgentID("a1"), map[string]any{"url": srv.URL, "method": "GET"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Value.(map[string]any)
	if m["status_code"] != http.StatusOK {
		t.Fatalf("expected 200, got %v", m["status_code"])
	}
}

func TestExecuteRejectsDisallowedURL(t *testing.T) {
	e := New(time.Second)
	e.Allowlist = denyAll{}
	_, err := e.Execute(context.Background(), ids.AgentID("a1"), map[string]any{"url": "http://example.com"})
	if err == nil {
		t.Fatal("expected error for disallowed url")
	}
}

type denyAll struct{}

func (denyAll) Allowed(string) bool { return false }

func TestExecuteMissingURL(t *testing.T) {
	e := New(time.Second)
	_, err := e.Execute(context.Background(), ids.AgentID("a1"), map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing url")
	}
}
