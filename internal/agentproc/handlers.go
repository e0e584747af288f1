// ABOUTME: Mailbox handler methods implementing the Agent decision loop — one method per message type.
// ABOUTME: Every handler runs inside the single goroutine started by Run; none of this needs its own locking.
package agentproc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/2389-research/quoracle/internal/budget"
	"github.com/2389-research/quoracle/internal/consensus"
	"github.com/2389-research/quoracle/internal/eventbus"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/oracle"
	"github.com/2389-research/quoracle/internal/router"
	"github.com/2389-research/quoracle/internal/store"
)

func (a *Agent) handleAgentMessage(ctx context.Context, m AgentMessage) {
	if a.cfg.Store != nil {
		if err := a.cfg.Store.PersistMessage(store.MessageRecord{AgentID: a.id, Sender: m.Sender, Content: m.Content, At: time.Now().UTC()}); err != nil {
			log.Printf("component=agentproc action=persist_message_failed agent_id=%s err=%v", a.id, err)
		}
	}
	for _, h := range a.histories {
		h.AppendUserTurn(m.Content)
	}
	received := eventbus.MessageReceived{
		AgentID: string(a.id),
		Message: eventbus.AgentMessage{Content: m.Content, Sender: string(m.Sender)},
	}
	a.publish(eventbus.AgentMessagesTopic(string(a.id)), received)
	if a.cfg.TaskID != "" {
		a.publish(eventbus.TaskMessagesTopic(a.cfg.TaskID), received)
	}
	a.scheduleConsensus()
}

func (a *Agent) handleTriggerConsensus(ctx context.Context) {
	if !a.consensusScheduled && a.waitTimer == nil {
		return
	}
	a.proceedToConsensus(ctx)
}

func (a *Agent) handleWaitFired(ctx context.Context, m WaitFired) {
	if a.waitTimer == nil || a.waitTimer.Handle != m.Handle || a.waitTimer.TimerID != m.TimerID || a.waitTimer.Generation != m.Generation {
		return // stale: superseded by a later timer or already cleared
	}
	a.waitTimer = nil
	a.proceedToConsensus(ctx)
}

// proceedToConsensus implements the shared tail of trigger_consensus and a
// matching wait_timeout/wait_expired: drain coalesced triggers, clear
// scheduling state, and run one cycle.
func (a *Agent) proceedToConsensus(ctx context.Context) {
	drained := a.drainTriggerConsensus()
	if drained > 0 {
		log.Printf("component=agentproc action=consensus_drain agent_id=%s drained=%d", a.id, drained)
	}
	a.consensusScheduled = false
	if a.waitTimer != nil {
		a.waitTimer.cancel()
		a.waitTimer = nil
	}
	a.runConsensusCycle(ctx)
}

// drainTriggerConsensus non-blockingly absorbs queued TriggerConsensus
// messages so a burst collapses into the single cycle about to run.
// Non-TriggerConsensus messages encountered along the way are re-enqueued
// at the back, preserving their relative order with each other.
func (a *Agent) drainTriggerConsensus() int {
	drained := 0
	var deferred []Message
drain:
	for drained < drainCap {
		select {
		case msg := <-a.mailbox:
			if _, ok := msg.(TriggerConsensus); ok {
				drained++
				continue
			}
			deferred = append(deferred, msg)
		default:
			break drain
		}
	}
	for _, msg := range deferred {
		a.mailbox <- msg
	}
	return drained
}

func (a *Agent) scheduleConsensus() {
	a.consensusScheduled = true
	select {
	case a.mailbox <- TriggerConsensus{}:
	default:
		log.Printf("component=agentproc action=schedule_consensus_dropped agent_id=%s reason=mailbox_full", a.id)
	}
}

func (a *Agent) runConsensusCycle(ctx context.Context) {
	systemPrompt := a.cfg.PromptBuilder.BuildSystemPrompt(a.cfg.Profile, a.cfg.CapabilityGroups, a.cfg.AllowedActions, a.cfg.ActiveSkills, a.cfg.ResponseSchema)

	outcome, err := a.engine.Run(ctx, systemPrompt, a.histories)
	if err != nil {
		a.consensusRetryCount++
		log.Printf("component=agentproc action=consensus_failed agent_id=%s attempt=%d err=%v", a.id, a.consensusRetryCount, err)
		if a.consensusRetryCount >= maxConsensusRetries {
			a.terminate("consensus_exhausted")
			return
		}
		a.armWaitTimer(oracle.WaitValue{Seconds: consensusRetryBackoffSeconds})
		return
	}
	a.consensusRetryCount = 0
	a.dispatchOutcome(ctx, outcome)
}

const (
	maxConsensusRetries          = 5
	consensusRetryBackoffSeconds = 5
)

func (a *Agent) dispatchOutcome(ctx context.Context, outcome consensus.Outcome) {
	action := outcome.Action

	if action.Name == actionStop {
		a.terminate("stop")
		return
	}
	if action.Wait.IsWaiting() {
		a.armWaitTimer(action.Wait)
		return
	}
	a.dispatchAction(ctx, action)
}

const (
	actionStop        = "stop"
	actionBatchSync   = "batch_sync"
	actionBatchAsync  = "batch_async"
)

// armWaitTimer installs a.waitTimer for either an indefinite block (no timer
// fires; the Agent waits for some other message to schedule the next cycle)
// or a timed continue (a goroutine delivers WaitFired after wait.Seconds).
func (a *Agent) armWaitTimer(wait oracle.WaitValue) {
	a.waitGenCounter++
	gen := a.waitGenCounter
	handle := ids.New()
	timerID := ids.New()

	if wait.Block || wait.Seconds <= 0 {
		a.waitTimer = &waitTimerState{Handle: handle, TimerID: timerID, Generation: gen, cancel: func() {}}
		return
	}

	timer := time.AfterFunc(time.Duration(wait.Seconds)*time.Second, func() {
		a.Send(WaitFired{Handle: handle, TimerID: timerID, Generation: gen})
	})
	a.waitTimer = &waitTimerState{Handle: handle, TimerID: timerID, Generation: gen, cancel: func() { timer.Stop() }}
}

// dispatchAction spawns an ActionRouter for a non-wait, non-terminal action,
// tracking it in pending_actions and active_routers until its result lands.
func (a *Agent) dispatchAction(ctx context.Context, action oracle.Action) {
	actionID := ids.NewActionID()
	pid := ids.NewWorkerPid()

	routerCtx, cancel := context.WithCancel(ctx)
	a.activeRouters[pid] = cancel
	if action.Name == actionBatchSync || action.Name == actionBatchAsync {
		// Batch actions are tracked by action_id -> pid only; their completion
		// arrives via batch_action_result/batch_completed, not action_result,
		// so they never go through pending_actions.
		a.batchRouters[actionID] = pid
	} else {
		a.pendingActions[actionID] = PendingAction{
			ActionType:       action.Name,
			DispatchedAt:     time.Now().UTC(),
			AutoCompleteTodo: action.AutoCompleteTodo,
			Pid:              pid,
		}
	}

	a.publish(eventbus.TopicActionsAll, eventbus.ActionStarted{
		AgentID: string(a.id), ActionType: action.Name, ActionID: string(actionID), Params: action.Params,
	})

	r := &router.Router{
		ActionID:     actionID,
		AgentID:      a.id,
		ActionType:   action.Name,
		Params:       action.Params,
		Executors:    a.cfg.Executors,
		Capabilities: a.cfg.Capabilities,
		Callback:     a,
	}
	if a.cfg.RunRouter != nil {
		// Test hook: assumed synchronous, so cancel is safe to call right after.
		a.cfg.RunRouter(routerCtx, r)
		cancel()
		return
	}
	go func() {
		defer cancel()
		r.Run(routerCtx)
	}()
}

func (a *Agent) handleActionResult(ctx context.Context, m ActionResult) {
	pending, ok := a.pendingActions[m.ActionID]
	if !ok {
		log.Printf("component=agentproc action=action_result_unmatched agent_id=%s action_id=%s", a.id, m.ActionID)
		return
	}

	if isRunningNotification(m.Result) {
		// Intermediate async "running" cast: leave pending, wait for the final
		// result. Track the command so a later DOWN on this router's pid also
		// drops the shell_status/terminate_shell routing entry.
		if m.Result.CommandID != "" {
			a.shellRouters[m.Result.CommandID] = pending.Pid
		}
		return
	}

	delete(a.pendingActions, m.ActionID)
	if cancel, ok := a.activeRouters[pending.Pid]; ok {
		delete(a.activeRouters, pending.Pid)
		cancel()
	}
	for cmdID, pid := range a.shellRouters {
		if pid == pending.Pid {
			delete(a.shellRouters, cmdID)
		}
	}

	a.appendActionResultHistory(pending.ActionType, m.Result)
	a.publish(eventbus.TopicActionsAll, eventbus.ActionCompleted{AgentID: string(a.id), ActionID: string(m.ActionID), Result: m.Result})

	if pending.AutoCompleteTodo {
		a.completeFirstOutstandingTodo()
	}
	a.scheduleConsensus()
}

// isRunningNotification reports whether result is the intermediate "running"
// cast an async shell executor sends before its real outcome.
func isRunningNotification(result router.ActionResult) bool {
	if !result.Async || result.Err != nil {
		return false
	}
	status, _ := result.Value.(map[string]any)
	if status == nil {
		return false
	}
	s, _ := status["status"].(string)
	return s == "running"
}

// appendActionResultHistory appends a result (or image) entry to every
// model's history so the next cycle sees this action's outcome.
func (a *Agent) appendActionResultHistory(actionType string, result router.ActionResult) {
	var text string
	switch {
	case result.Err != nil:
		text = fmt.Sprintf(`{"action":%q,"error":%q}`, actionType, result.Err.Error())
	case isImageResult(result.Value):
		text = fmt.Sprintf(`{"action":%q,"image":true}`, actionType)
	default:
		text = fmt.Sprintf(`{"action":%q,"result":%v}`, actionType, result.Value)
	}
	for _, h := range a.histories {
		h.AppendDeliberation(text)
	}
}

func isImageResult(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	kind, _ := m["kind"].(string)
	return kind == "image"
}

func (a *Agent) completeFirstOutstandingTodo() {
	for i := range a.todos {
		if !a.todos[i].Done {
			a.todos[i].Done = true
			a.publish(eventbus.TopicAgentsLifecycle, eventbus.TodosUpdated{AgentID: string(a.id), Todos: a.todoSnapshots()})
			return
		}
	}
}

func (a *Agent) todoSnapshots() []eventbus.TodoSnapshot {
	out := make([]eventbus.TodoSnapshot, len(a.todos))
	for i, t := range a.todos {
		out[i] = eventbus.TodoSnapshot{ID: t.ID, Description: t.Text, Done: t.Done}
	}
	return out
}

// handleBatchActionResult records one streamed sub-action result from a
// batch_async router. Accepted without a pending_actions lookup per spec —
// the batch coordinator, not a one-shot action, owns this action_id.
func (a *Agent) handleBatchActionResult(m BatchActionResult) {
	a.publish(eventbus.TopicActionsAll, eventbus.ActionCompleted{
		AgentID: string(a.id), ActionID: string(m.ActionID), Result: m.Result,
	})
}

func (a *Agent) handleBatchCompleted(ctx context.Context, m BatchCompleted) {
	if pid, ok := a.batchRouters[m.ActionID]; ok {
		delete(a.batchRouters, m.ActionID)
		if cancel, ok := a.activeRouters[pid]; ok {
			delete(a.activeRouters, pid)
			cancel()
		}
	}
	summary := fmt.Sprintf(`{"action":"batch","total":%d,"succeeded":%d,"failed":%d}`, m.Total, m.Succeeded, m.Failed)
	for _, h := range a.histories {
		h.AppendDeliberation(summary)
	}
	a.scheduleConsensus()
}

func (a *Agent) handleChildSpawned(m ChildSpawned) {
	if _, ok := a.children[m.AgentID]; ok {
		return
	}
	a.children[m.AgentID] = ChildInfo{Pid: m.Pid, SpawnedAt: m.SpawnedAt, BudgetAllocated: m.BudgetAllocated}
	if m.BudgetAllocated != nil {
		a.commitChildBudget(*m.BudgetAllocated)
	}
}

func (a *Agent) handleChildDismissed(m ChildDismissed) {
	info, ok := a.children[m.AgentID]
	delete(a.children, m.AgentID)
	if ok && info.BudgetAllocated != nil {
		// No per-child spend ledger crosses this boundary (cost-ledger
		// internals are out of scope per spec.md); the child's full
		// allocation is treated as unspent on release.
		a.budget = budget.ReleaseChild(a.budget, *info.BudgetAllocated, 0)
	}
}

// commitChildBudget pledges amount from the parent's own budget to a newly
// spawned child via BudgetEscrow.AdjustChild (current_allocated=0, since the
// child previously held no allocation), then recomputes the over_budget
// latch. A rejection (insufficient parent budget) is logged; the child still
// exists (it was already started) but its allocation is not reflected in the
// parent's committed pool.
func (a *Agent) commitChildBudget(amount float64) {
	next, err := budget.AdjustChild(a.budget, 0, amount, 0)
	if err != nil {
		log.Printf("component=agentproc action=budget_commit_rejected agent_id=%s amount=%.4f err=%v", a.id, amount, err)
		a.latchOverBudget()
		return
	}
	a.budget = next
	a.latchOverBudget()
}

// latchOverBudget recomputes over_budget and ORs it into the existing latch
// (invariant I3: monotonically non-decreasing, never cleared). "Spent" has
// no independent ledger at this boundary, so the parent's own committed
// pool — the portion already pledged to children — stands in as the closest
// available proxy for spend.
func (a *Agent) latchOverBudget() {
	if a.overBudget {
		return
	}
	spent := 0.0
	if a.budget.Committed != nil {
		spent = *a.budget.Committed
	}
	a.overBudget = budget.OverBudget(a.budget, spent)
}

// handleDismissRequested toggles dismissing and begins termination. A
// duplicate request while already dismissing is a no-op — the race-guard
// spec.md names for this control message.
func (a *Agent) handleDismissRequested() bool {
	if a.dismissing {
		return false
	}
	a.dismissing = true
	a.setState(StateDismissing)
	a.terminate("dismissed")
	return true
}

func (a *Agent) handleChildRestored(m ChildRestored) {
	if _, ok := a.children[m.AgentID]; ok {
		return
	}
	a.children[m.AgentID] = ChildInfo{Pid: m.Pid, SpawnedAt: m.SpawnedAt, BudgetAllocated: m.BudgetAllocated}
}

func (a *Agent) handleMonitoredDown(m MonitoredDown) {
	if cancel, ok := a.activeRouters[m.Pid]; ok {
		delete(a.activeRouters, m.Pid)
		cancel()
		for cmdID, pid := range a.shellRouters {
			if pid == m.Pid {
				delete(a.shellRouters, cmdID)
			}
		}
		return
	}

	if m.Pid == a.parentPid {
		log.Printf("component=agentproc action=parent_down agent_id=%s parent_pid=%s", a.id, m.Pid)
		a.publish(eventbus.AgentLogsTopic(string(a.id)), eventbus.LogEntry{AgentID: string(a.id), Level: "warn", Message: "parent process down"})
		if a.parentID != "" {
			return // this agent was spawned into a real hierarchy; survive losing its monitored parent pid
		}
		a.terminate("parent_down")
		return
	}

	for childID, info := range a.children {
		if info.Pid == m.Pid {
			delete(a.children, childID)
			return
		}
	}
}

// handleLinkedExit reports whether the Agent terminated as a result.
func (a *Agent) handleLinkedExit(m LinkedExit) bool {
	if _, ok := a.activeRouters[m.Pid]; ok {
		return false // its MonitoredDown handles cleanup
	}
	switch m.Reason {
	case "normal":
		return false
	case "shutdown":
		a.terminate("shutdown")
		return true
	default:
		a.terminate("linked_exit:" + m.Reason)
		return true
	}
}

// terminate runs the shutdown sequence: stop every live router, persist
// final state, broadcast agent_terminated, and move to the terminal state.
func (a *Agent) terminate(reason string) {
	a.exitMu.Lock()
	a.exitReason = reason
	a.exitMu.Unlock()

	a.setState(StateTerminating)

	for pid, cancel := range a.activeRouters {
		cancel()
		delete(a.activeRouters, pid)
	}
	a.shellRouters = map[string]string{}

	a.persistFinalState()

	a.publish(eventbus.TopicAgentsLifecycle, eventbus.AgentTerminated{
		AgentID: string(a.id), Reason: reason, Timestamp: time.Now().UTC(),
	})
}

func (a *Agent) persistFinalState() {
	if a.cfg.Store == nil {
		return
	}
	histories := make(map[string][]byte, len(a.histories))
	for model, h := range a.histories {
		b, err := json.Marshal(h.Conversation())
		if err != nil {
			log.Printf("component=agentproc action=marshal_history_failed agent_id=%s model=%s err=%v", a.id, model, err)
			continue
		}
		histories[model] = b
	}
	err := a.cfg.Store.PersistACEState(store.ACEState{
		AgentID:        a.id,
		ModelHistories: histories,
		Todos:          a.todos,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("component=agentproc action=persist_final_state_failed agent_id=%s err=%v", a.id, err)
	}
}

// DeliverActionResult implements router.Callback by casting the result back
// onto this Agent's own mailbox — the Router never blocks on delivery.
func (a *Agent) DeliverActionResult(actionID ids.ActionID, result router.ActionResult) {
	a.Send(ActionResult{ActionID: actionID, Result: result})
}

// DeliverSpawnComplete implements router.Callback for spawn_child actions.
// On success it enqueues ChildSpawned onto this Agent's own mailbox, so the
// child is recorded (and its budget committed) inside the mailbox loop.
func (a *Agent) DeliverSpawnComplete(actionID ids.ActionID, childID ids.AgentID, ok bool, pid string, budgetAllocated *float64, err error) {
	if !ok {
		log.Printf("component=agentproc action=spawn_failed agent_id=%s action_id=%s err=%v", a.id, actionID, err)
		return
	}
	log.Printf("component=agentproc action=spawn_complete agent_id=%s child_id=%s pid=%s", a.id, childID, pid)
	a.Send(ChildSpawned{AgentID: childID, Pid: pid, SpawnedAt: time.Now().UTC(), BudgetAllocated: budgetAllocated})
}

func (a *Agent) DeliverBatchAsyncResult(actionID ids.ActionID, subActionType string, result router.ActionResult) {
	a.Send(BatchActionResult{ActionID: actionID, SubActionType: subActionType, Result: result})
}

func (a *Agent) DeliverBatchCompleted(actionID ids.ActionID, total, succeeded, failed int, results []router.ActionResult) {
	a.Send(BatchCompleted{ActionID: actionID, Total: total, Succeeded: succeeded, Failed: failed, Results: results})
}
