// ABOUTME: Message types for the Agent's single mailbox and the small bits of state it owns.
// ABOUTME: Mirrors the tagged-union Message/Event pattern used across this codebase's event-sourced actors.
package agentproc

import (
	"time"

	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// State is the Agent's lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDismissing    State = "dismissing"
	StateTerminating  State = "terminating"
)

// Message is anything the Agent's mailbox can receive. All mutation of
// Agent state happens inside the single goroutine that drains this channel.
type Message interface {
	isAgentMessage()
}

// AgentMessage is an inbound message from a parent, child, or external sender.
type AgentMessage struct {
	Content string
	Sender  ids.AgentID
}

func (AgentMessage) isAgentMessage() {}

// TriggerConsensus requests a decision cycle. Multiple enqueued triggers
// collapse into a single cycle via the drain step in handleTriggerConsensus.
type TriggerConsensus struct{}

func (TriggerConsensus) isAgentMessage() {}

// WaitFired represents either a wait_timeout or a wait_expired signal; both
// carry the same (handle, timer_id, generation) triple the Agent compares
// against its live wait_timer to defeat stale-timer races.
type WaitFired struct {
	Handle     string
	TimerID    string
	Generation uint64
}

func (WaitFired) isAgentMessage() {}

// ActionResult is a completed (or failed) action reported by an ActionRouter.
type ActionResult struct {
	ActionID ids.ActionID
	Result   router.ActionResult
}

func (ActionResult) isAgentMessage() {}

// BatchActionResult is one streamed sub-action result from a batch_async router.
type BatchActionResult struct {
	ActionID      ids.ActionID
	SubActionType string
	Result        router.ActionResult
}

func (BatchActionResult) isAgentMessage() {}

// BatchCompleted is the final summary from a batch router.
type BatchCompleted struct {
	ActionID  ids.ActionID
	Total     int
	Succeeded int
	Failed    int
	Results   []router.ActionResult
}

func (BatchCompleted) isAgentMessage() {}

// ChildSpawned records a new child relationship (idempotent insert).
type ChildSpawned struct {
	AgentID         ids.AgentID
	Pid             string
	SpawnedAt       time.Time
	BudgetAllocated *float64
}

func (ChildSpawned) isAgentMessage() {}

// ChildDismissed removes a child relationship (idempotent).
type ChildDismissed struct {
	AgentID ids.AgentID
}

func (ChildDismissed) isAgentMessage() {}

// ChildRestored is identical to ChildSpawned, distinguished only for
// restore-phase observability.
type ChildRestored struct {
	AgentID         ids.AgentID
	Pid             string
	SpawnedAt       time.Time
	BudgetAllocated *float64
}

func (ChildRestored) isAgentMessage() {}

// MonitoredDown signals that a monitored process (a router, the parent, or a
// child) has gone down.
type MonitoredDown struct {
	Pid string
}

func (MonitoredDown) isAgentMessage() {}

// LinkedExit signals that a linked process exited with the given reason
// ("normal", "shutdown", or anything else).
type LinkedExit struct {
	Pid    string
	Reason string
}

func (LinkedExit) isAgentMessage() {}

// StopRequested asks the Agent to terminate gracefully.
type StopRequested struct{}

func (StopRequested) isAgentMessage() {}

// DismissRequested asks the Agent to dismiss itself — the parent-driven
// counterpart to StopRequested (Supervisor-driven). Toggling dismissing a
// second time (a duplicate dismiss request racing the first) is a no-op,
// guarded by Agent.dismissing.
type DismissRequested struct{}

func (DismissRequested) isAgentMessage() {}

// PendingAction tracks a dispatched action awaiting its result.
type PendingAction struct {
	ActionType       string
	DispatchedAt     time.Time
	AutoCompleteTodo bool
	Pid              string
}

// ChildInfo tracks one child agent relationship.
type ChildInfo struct {
	Pid             string
	SpawnedAt       time.Time
	BudgetAllocated *float64
}

// waitTimerState is the Agent's own bookkeeping for its single live wait_timer.
type waitTimerState struct {
	Handle     string
	TimerID    string
	Generation uint64
	cancel     func()
}
