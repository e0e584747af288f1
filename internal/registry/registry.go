// ABOUTME: Registry: the atomic register/unregister index of live Agent handles by id, parent, and children.
// ABOUTME: Adapted from the subagent manager's mutex-guarded id->handle map, generalized to a parent/child tree.
package registry

import (
	"sync"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
)

// entry pairs a live Agent with the parent id it was registered under, so
// Children can be reconstructed without a second index to keep in sync.
type entry struct {
	agent    *agentproc.Agent
	parentID ids.AgentID
}

// Registry indexes every live Agent by id and tracks parent/child edges.
// Lookups are safe from any goroutine but may lag a concurrent Unregister —
// callers that need a guaranteed-live handle should check agent.State().
type Registry struct {
	mu       sync.RWMutex
	entries  map[ids.AgentID]entry
	children map[ids.AgentID]map[ids.AgentID]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries:  make(map[ids.AgentID]entry),
		children: make(map[ids.AgentID]map[ids.AgentID]struct{}),
	}
}

// Register records a newly started agent under its own id and, if parentID
// is non-empty, as a child of parentID. Safe to call more than once for the
// same id; the second call simply replaces the handle (used by restore,
// which may re-register an agent under a new process after a restart).
func (r *Registry) Register(id, parentID ids.AgentID, agent *agentproc.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = entry{agent: agent, parentID: parentID}
	if parentID != "" {
		if r.children[parentID] == nil {
			r.children[parentID] = make(map[ids.AgentID]struct{})
		}
		r.children[parentID][id] = struct{}{}
	}
}

// Unregister removes id from the index and detaches it from its parent's
// child set. It does not touch id's own recorded children — those remain
// independently registered (and orphaned) until they too terminate.
func (r *Registry) Unregister(id ids.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return
	}
	delete(r.entries, id)
	if e.parentID != "" {
		if kids := r.children[e.parentID]; kids != nil {
			delete(kids, id)
			if len(kids) == 0 {
				delete(r.children, e.parentID)
			}
		}
	}
}

// Lookup returns the live handle for id, or (nil, false) if it is not
// currently registered. A false result may simply mean the agent already
// terminated — lookups are eventually consistent, not linearizable.
func (r *Registry) Lookup(id ids.AgentID) (*agentproc.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// ParentOf returns the parent id agent was registered under, or "" if it has
// none (a root agent) or is not currently registered.
func (r *Registry) ParentOf(id ids.AgentID) ids.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id].parentID
}

// ChildrenOf returns the currently registered child ids of id, in no
// particular order.
func (r *Registry) ChildrenOf(id ids.AgentID) []ids.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kids := r.children[id]
	out := make([]ids.AgentID, 0, len(kids))
	for childID := range kids {
		out = append(out, childID)
	}
	return out
}

// SiblingsOf returns the currently registered ids that share id's parent,
// excluding id itself, in no particular order. A root agent (no parent) or
// an unregistered id has no siblings.
func (r *Registry) SiblingsOf(id ids.AgentID) []ids.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parentID := r.entries[id].parentID
	if parentID == "" {
		return nil
	}
	kids := r.children[parentID]
	out := make([]ids.AgentID, 0, len(kids))
	for childID := range kids {
		if childID == id {
			continue
		}
		out = append(out, childID)
	}
	return out
}

// Count returns the number of currently registered agents. Intended for
// tests and diagnostics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
