// ABOUTME: ActionExecutor for the send_message action: delivers a message into another agent's mailbox by id.
// ABOUTME: Looks the recipient up through the Registry, following the same id-indexed lookup pattern as child/parent queries.
package messageexec

import (
	"context"
	"fmt"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// AgentLookup resolves a live agent handle by id. *registry.Registry
// satisfies this directly.
type AgentLookup interface {
	Lookup(id ids.AgentID) (*agentproc.Agent, bool)
}

// Executor delivers "send_message" actions to another agent already known
// to Lookup (typically a parent or a child of the sender).
type Executor struct {
	Lookup AgentLookup
}

// New creates a message Executor backed by lookup.
func New(lookup AgentLookup) *Executor { return &Executor{Lookup: lookup} }

// Execute implements router.ActionExecutor for the "send_message" action type.
func (e *Executor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	target, _ := params["target_agent_id"].(string)
	content, _ := params["content"].(string)
	if target == "" || content == "" {
		return router.ExecResult{}, fmt.Errorf("messageexec: missing required %q/%q params", "target_agent_id", "content")
	}

	recipient, ok := e.Lookup.Lookup(ids.AgentID(target))
	if !ok {
		return router.ExecResult{}, fmt.Errorf("messageexec: target agent %q not found", target)
	}

	recipient.Send(agentproc.AgentMessage{Content: content, Sender: agentID})
	return router.ExecResult{Value: map[string]any{"delivered_to": target}}, nil
}
