// ABOUTME: Shared data model for the ActionRouter ephemeral per-action worker.
// ABOUTME: Adapted from the subagent manager's handle+done-channel pattern, one worker per dispatched action.
package router

import (
	"context"
	"errors"

	"github.com/2389-research/quoracle/internal/ids"
)

// ErrActionNotAllowed is returned when an action's type is not present in
// the owning agent's currently granted capability groups.
var ErrActionNotAllowed = errors.New("router: action not allowed by capability groups")

// ActionResult is what a Router delivers back to its owning Agent. Exactly
// one final ActionResult (possibly preceded by an Async running notification)
// is delivered per non-batch action. batch_sync delivers one aggregated
// ActionResult whose Value holds the sub-results; batch_async delivers
// through the batch-specific callback methods instead. A batch whose
// "actions" param is malformed reports its error as an ActionResult.
type ActionResult struct {
	OK        bool
	Value     any
	Err       error
	Async     bool
	CommandID string
}

// Continuation is the single value an asynchronous executor later delivers
// once a shell-style action that returned {status: running} actually finishes.
type Continuation struct {
	Value any
	Err   error
}

// ExecResult is what one ActionExecutor.Execute call returns.
type ExecResult struct {
	Value        any
	Async        bool
	CommandID    string
	Continuation <-chan Continuation
}

// ActionExecutor runs one action family (shell, API, MCP, spawn, file, wait,
// message, ...). Implementations that can run asynchronously (shell) set
// ExecResult.Async and return a Continuation channel that will receive
// exactly one value when the operation completes.
type ActionExecutor interface {
	Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (ExecResult, error)
}

// CapabilityChecker reports whether an action type is currently permitted
// for the owning agent. The base action set is always allowed; the rest are
// gated by capability group membership (file_read, file_write, external_api,
// hierarchy, local_execution).
type CapabilityChecker interface {
	Allowed(actionType string) bool
}

// AllowAll is a CapabilityChecker that permits every action type; useful for
// tests and for restoration-mode replay where capability checks already ran.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }

// Callback is how a Router reports back to its owning Agent. Every method
// is a one-way "cast": the Agent's mailbox receives it asynchronously and
// the Router does not wait for acknowledgement.
type Callback interface {
	DeliverActionResult(actionID ids.ActionID, result ActionResult)
	DeliverSpawnComplete(actionID ids.ActionID, childID ids.AgentID, ok bool, pid string, budgetAllocated *float64, err error)
	DeliverBatchAsyncResult(actionID ids.ActionID, subActionType string, result ActionResult)
	DeliverBatchCompleted(actionID ids.ActionID, total, succeeded, failed int, results []ActionResult)
}
