package registry

import (
	"testing"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
)

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := New()
	id := ids.NewAgentID()
	agent := &agentproc.Agent{}

	r.Register(id, "", agent)

	got, ok := r.Lookup(id)
	if !ok || got != agent {
		t.Fatalf("Lookup after Register = %v, %v; want the registered handle", got, ok)
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}

	r.Unregister(id)
	if _, ok := r.Lookup(id); ok {
		t.Fatal("Lookup after Unregister found a handle, want none")
	}
	if r.Count() != 0 {
		t.Fatalf("Count after Unregister = %d, want 0", r.Count())
	}
}

func TestRegistry_LookupMissingReturnsFalse(t *testing.T) {
	r := New()
	if _, ok := r.Lookup(ids.AgentID("nope")); ok {
		t.Fatal("Lookup on empty registry returned true")
	}
}

func TestRegistry_ParentChildTracking(t *testing.T) {
	r := New()
	parent := ids.NewAgentID()
	child1 := ids.NewAgentID()
	child2 := ids.NewAgentID()

	r.Register(parent, "", &agentproc.Agent{})
	r.Register(child1, parent, &agentproc.Agent{})
	r.Register(child2, parent, &agentproc.Agent{})

	if got := r.ParentOf(child1); got != parent {
		t.Fatalf("ParentOf(child1) = %q, want %q", got, parent)
	}

	kids := r.ChildrenOf(parent)
	if len(kids) != 2 {
		t.Fatalf("ChildrenOf(parent) = %v, want 2 entries", kids)
	}
	seen := map[ids.AgentID]bool{}
	for _, k := range kids {
		seen[k] = true
	}
	if !seen[child1] || !seen[child2] {
		t.Fatalf("ChildrenOf(parent) = %v, want both %q and %q", kids, child1, child2)
	}
}

func TestRegistry_UnregisterChildDetachesFromParent(t *testing.T) {
	r := New()
	parent := ids.NewAgentID()
	child := ids.NewAgentID()

	r.Register(parent, "", &agentproc.Agent{})
	r.Register(child, parent, &agentproc.Agent{})
	r.Unregister(child)

	if kids := r.ChildrenOf(parent); len(kids) != 0 {
		t.Fatalf("ChildrenOf(parent) after child unregister = %v, want empty", kids)
	}
}

func TestRegistry_ReRegisterReplacesHandle(t *testing.T) {
	r := New()
	id := ids.NewAgentID()
	first := &agentproc.Agent{}
	second := &agentproc.Agent{}

	r.Register(id, "", first)
	r.Register(id, "", second)

	got, ok := r.Lookup(id)
	if !ok || got != second {
		t.Fatalf("Lookup after re-register = %v, %v; want the second handle", got, ok)
	}
	if r.Count() != 1 {
		t.Fatalf("Count after re-register = %d, want 1", r.Count())
	}
}

func TestRegistry_SiblingsOf(t *testing.T) {
	r := New()
	parent := ids.NewAgentID()
	child1 := ids.NewAgentID()
	child2 := ids.NewAgentID()
	child3 := ids.NewAgentID()

	r.Register(parent, "", &agentproc.Agent{})
	r.Register(child1, parent, &agentproc.Agent{})
	r.Register(child2, parent, &agentproc.Agent{})
	r.Register(child3, parent, &agentproc.Agent{})

	siblings := r.SiblingsOf(child1)
	if len(siblings) != 2 {
		t.Fatalf("SiblingsOf(child1) = %v, want 2 entries", siblings)
	}
	seen := map[ids.AgentID]bool{}
	for _, s := range siblings {
		seen[s] = true
	}
	if !seen[child2] || !seen[child3] || seen[child1] {
		t.Fatalf("SiblingsOf(child1) = %v, want {child2, child3} excluding child1", siblings)
	}
}

func TestRegistry_SiblingsOfRootIsEmpty(t *testing.T) {
	r := New()
	root := ids.NewAgentID()
	r.Register(root, "", &agentproc.Agent{})

	if siblings := r.SiblingsOf(root); len(siblings) != 0 {
		t.Fatalf("SiblingsOf(root) = %v, want empty", siblings)
	}
}

func TestRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := New()
	r.Unregister(ids.AgentID("never-registered"))
	if r.Count() != 0 {
		t.Fatalf("Count = %d, want 0", r.Count())
	}
}
