// ABOUTME: ActionRouter: the ephemeral per-action worker spawned by an Agent for each dispatched action.
// ABOUTME: Validates capability, invokes the matching ActionExecutor, and casts the result back, then exits.
package router

import (
	"context"

	"github.com/2389-research/quoracle/internal/ids"
)

const (
	actionSpawnChild = "spawn_child"
	actionBatchSync  = "batch_sync"
	actionBatchAsync = "batch_async"
)

// Router is a one-shot worker: Run executes exactly one dispatched action
// (or one batch of sub-actions) and returns once every required callback
// has fired. It carries no state beyond a single call to Run.
type Router struct {
	ActionID     ids.ActionID
	AgentID      ids.AgentID
	ActionType   string
	Params       map[string]any
	Executors    map[string]ActionExecutor
	Capabilities CapabilityChecker
	Callback     Callback
}

// Run validates and dispatches the action, delivering results via Callback.
// For an asynchronous executor it delivers the "running" result and then
// blocks until the continuation arrives (or ctx is done), so the caller
// should invoke Run in its own goroutine so a long-running shell action does
// not block the spawning Agent.
func (r *Router) Run(ctx context.Context) {
	if r.Capabilities != nil && !r.Capabilities.Allowed(r.ActionType) {
		r.Callback.DeliverActionResult(r.ActionID, ActionResult{Err: ErrActionNotAllowed})
		return
	}

	switch r.ActionType {
	case actionBatchSync:
		r.runBatchSync(ctx)
	case actionBatchAsync:
		r.runBatchAsync(ctx)
	default:
		r.runSingle(ctx, r.ActionType, r.Params, r.callbackForSingle)
	}
}

// callbackForSingle is the completion path for a plain (non-batch) action:
// deliver its ActionResult, and for spawn_child additionally deliver the
// spawn_complete cast the caller needs to resolve a pending spawn.
func (r *Router) callbackForSingle(result ActionResult) {
	r.Callback.DeliverActionResult(r.ActionID, result)
	if r.ActionType == actionSpawnChild {
		r.deliverSpawnComplete(result)
	}
}

func (r *Router) deliverSpawnComplete(result ActionResult) {
	if result.Err != nil {
		r.Callback.DeliverSpawnComplete(r.ActionID, "", false, "", nil, result.Err)
		return
	}
	m, _ := result.Value.(map[string]any)
	childID, _ := m["child_id"].(string)
	pid, _ := m["pid"].(string)
	r.Callback.DeliverSpawnComplete(r.ActionID, ids.AgentID(childID), true, pid, budgetAllocatedOf(m), nil)
}

// budgetAllocatedOf extracts an optional "budget_allocated" field from a
// spawn_child executor's result map, tolerating the float64/int split
// encoding/json produces depending on how the param reached the executor.
func budgetAllocatedOf(m map[string]any) *float64 {
	raw, ok := m["budget_allocated"]
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

// runSingle executes one action (used both for the top-level action and for
// each sub-action of a batch) and reports through the given completion func.
// If the executor returns an async continuation, runSingle first reports a
// "running" ActionResult, then blocks on the continuation before reporting
// the final result — this is the only place a Router outlives its first
// synchronous return, mirroring the shell-executor's async contract.
func (r *Router) runSingle(ctx context.Context, actionType string, params map[string]any, deliver func(ActionResult)) ActionResult {
	executor, ok := r.Executors[actionType]
	if !ok {
		res := ActionResult{Err: unknownExecutorError(actionType)}
		deliver(res)
		return res
	}

	execRes, err := executor.Execute(ctx, r.AgentID, params)
	if err != nil {
		res := ActionResult{Err: err}
		deliver(res)
		return res
	}

	if !execRes.Async {
		res := ActionResult{OK: true, Value: execRes.Value}
		deliver(res)
		return res
	}

	running := ActionResult{OK: true, Async: true, CommandID: execRes.CommandID, Value: map[string]any{"status": "running"}}
	deliver(running)

	select {
	case cont := <-execRes.Continuation:
		var final ActionResult
		if cont.Err != nil {
			final = ActionResult{Err: cont.Err, CommandID: execRes.CommandID}
		} else {
			final = ActionResult{OK: true, Value: cont.Value, CommandID: execRes.CommandID}
		}
		deliver(final)
		return final
	case <-ctx.Done():
		final := ActionResult{Err: ctx.Err(), CommandID: execRes.CommandID}
		deliver(final)
		return final
	}
}
