// ABOUTME: ULID-backed identifier generation for agents, actions, and commands.
// ABOUTME: Centralizes ID creation so every component uses the same entropy source and string shape.
package ids

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// AgentID uniquely identifies an agent process, globally, for its lifetime.
type AgentID string

// ActionID uniquely identifies one pending action instance within an agent.
type ActionID string

// CommandID uniquely identifies an async shell invocation within an ActionRouter.
type CommandID string

// New generates a fresh ULID using crypto/rand entropy and returns its string form.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewAgentID generates a new globally-unique agent identifier.
func NewAgentID() AgentID {
	return AgentID(New())
}

// NewActionID generates a new action identifier, unique within its owning agent.
func NewActionID() ActionID {
	return ActionID(New())
}

// NewCommandID generates a new shell command identifier.
func NewCommandID() CommandID {
	return CommandID(New())
}

// NewWorkerPid generates a fresh identifier for one ActionRouter worker
// instance. Unlike agent/action/command identifiers, routers are purely
// in-process and ephemeral, so they use uuid rather than ulid — there is no
// need for lexicographic sort order among worker pids.
func NewWorkerPid() string {
	return uuid.NewString()
}
