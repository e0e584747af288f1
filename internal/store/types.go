// ABOUTME: PersistenceStore boundary interface and its data model: agent attrs, ACE state, messages.
// ABOUTME: Agent and ACE-state writes are idempotent upserts; transient failures are logged and swallowed, never fatal.
package store

import (
	"time"

	"github.com/2389-research/quoracle/internal/ids"
)

// AgentAttrs is the durable identity and configuration of one agent,
// snapshotted on spawn and whenever its capability/budget allocation changes.
type AgentAttrs struct {
	AgentID          ids.AgentID
	ParentID         ids.AgentID // zero value ("") means a root agent
	TaskID           string
	CreatedAt        time.Time
	CapabilityGroups []string
	Budget           *float64
}

// TodoItem is one entry of an agent's todo list.
type TodoItem struct {
	ID   string
	Text string
	Done bool
}

// ACEState is an agent's persisted "ACE" (agent-conversation-environment)
// state: the serialized per-model conversation histories (opaque blobs —
// the store does not interpret their contents) plus the todo list.
type ACEState struct {
	AgentID        ids.AgentID
	ModelHistories map[string][]byte
	Todos          []TodoItem
	UpdatedAt      time.Time
}

// MessageRecord is one persisted inbound message to an agent.
type MessageRecord struct {
	AgentID ids.AgentID
	Sender  ids.AgentID
	Content string
	At      time.Time
}

// AgentSnapshot is everything the Restorer needs to reconstruct one agent:
// its attrs, its last persisted ACE state, and its message log.
type AgentSnapshot struct {
	Attrs    AgentAttrs
	ACE      ACEState
	Messages []MessageRecord
}

// PersistenceStore is the boundary the Agent writes through. SaveAgent and
// PersistACEState are idempotent upserts: calling them again with the same or
// updated data never corrupts state. PersistMessage appends a new record on
// every call, so repeating it stores the message again.
type PersistenceStore interface {
	SaveAgent(attrs AgentAttrs) error
	PersistACEState(state ACEState) error
	PersistMessage(rec MessageRecord) error
	LoadAgentsForRestore() ([]AgentSnapshot, error)
}
