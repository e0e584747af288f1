// ABOUTME: ActionExecutor for the spawn_child action: starts a new Agent under the Supervisor as a child of the caller.
// ABOUTME: Adapted from agent/subagents.go's Spawn, generalized from an in-process subagent to a supervised Agent process.
package spawnexec

import (
	"context"
	"fmt"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
	"github.com/2389-research/quoracle/internal/supervisor"
)

// ChildSpec is what a ConfigFactory must produce: the new child's identifier
// and the fully-built Config the Supervisor will run it with.
type ChildSpec struct {
	ID     ids.AgentID
	Config agentproc.Config
}

// ConfigFactory builds a child's spec from the spawning agent's id and the
// spawn_child action's params (e.g. profile name, task, budget_allocated).
// Building a full Config (oracle pool, executors, prompt builder, ...) is
// deployment-specific, so it is supplied by the wiring layer, not owned here.
type ConfigFactory func(parentID ids.AgentID, params map[string]any) (ChildSpec, error)

// Executor starts children through a Supervisor using a caller-supplied
// ConfigFactory. It never constructs Config itself.
type Executor struct {
	Supervisor *supervisor.Supervisor
	Factory    ConfigFactory
}

// New creates a spawn Executor.
func New(sup *supervisor.Supervisor, factory ConfigFactory) *Executor {
	return &Executor{Supervisor: sup, Factory: factory}
}

// Execute implements router.ActionExecutor for the "spawn_child" action type.
func (e *Executor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	spec, err := e.Factory(agentID, params)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("spawnexec: build child config: %w", err)
	}
	if spec.ID == "" {
		spec.ID = ids.NewAgentID()
	}

	e.Supervisor.StartAgent(ctx, spec.ID, agentID, string(agentID), spec.Config)

	result := map[string]any{
		"child_id": string(spec.ID),
		"pid":      string(spec.ID),
	}
	if allocated := budgetAllocatedParam(params); allocated != nil {
		result["budget_allocated"] = *allocated
	}
	return router.ExecResult{Value: result}, nil
}

// budgetAllocatedParam extracts an optional "budget_allocated" param so the
// caller's requested child allocation survives the round trip back to
// DeliverSpawnComplete, which threads it into the child_spawned cast the
// parent's BudgetEscrow commits against.
func budgetAllocatedParam(params map[string]any) *float64 {
	raw, ok := params["budget_allocated"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	default:
		return nil
	}
}
