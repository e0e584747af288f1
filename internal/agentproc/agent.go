// ABOUTME: Agent: single-mailbox actor running the decision loop described by spec.md §4.8.
// ABOUTME: One goroutine drains the mailbox serially; all state mutation happens inside that goroutine.
package agentproc

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/2389-research/quoracle/internal/budget"
	"github.com/2389-research/quoracle/internal/consensus"
	"github.com/2389-research/quoracle/internal/eventbus"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/oracle"
	"github.com/2389-research/quoracle/internal/prompt"
	"github.com/2389-research/quoracle/internal/router"
	"github.com/2389-research/quoracle/internal/store"
)

const mailboxCapacity = 256

// drainCap bounds how many additional trigger_consensus messages a single
// drain step will fold away, defending against an unbounded mailbox scan
// if something is misbehaving and flooding triggers.
const drainCap = 64

// RouterRunner starts one ActionRouter for a dispatched action and reports
// back through the given Callback. The default wiring runs router.Router.Run
// in its own goroutine; tests can substitute a synchronous fake.
type RouterRunner func(ctx context.Context, r *router.Router)

// Config configures one Agent.
type Config struct {
	Pool             oracle.Pool
	Consensus        consensus.Config
	OracleClient     oracle.Client
	PromptBuilder    prompt.Builder
	Profile          prompt.ProfileContext
	CapabilityGroups []string
	AllowedActions   []string
	ActiveSkills     []string
	ResponseSchema   json.RawMessage
	Executors        map[string]router.ActionExecutor
	Capabilities     router.CapabilityChecker
	Store            store.PersistenceStore
	Bus              *eventbus.Bus
	Budget           budget.Budget
	RunRouter        RouterRunner
	TaskID           string

	// Restoration seeds a fresh Agent value with state recovered from a
	// prior PersistenceStore snapshot. RestorationMode additionally skips
	// the initial SaveAgent call on Run, since the Restorer already knows
	// this agent's attrs are durable.
	RestorationMode  bool
	InitialHistories map[string][]byte // model -> json-encoded []oracle.Turn, as written by persistFinalState
	InitialTodos     []store.TodoItem
	InitialChildren  map[ids.AgentID]ChildInfo
}

// Agent is the actor. Send and the router.Callback methods are safe for
// concurrent use — they only ever send to the mailbox; State, WaitForReady
// and ExitReason guard what they read with their own mutexes. All other
// state is owned by loop().
type Agent struct {
	id       ids.AgentID
	parentID ids.AgentID
	parentPid string
	cfg      Config

	mailbox chan Message
	doneCh  chan struct{}

	stateMu sync.RWMutex
	state   State

	exitMu     sync.Mutex
	exitReason string

	readyMu      sync.Mutex
	readyWaiters []chan struct{}

	// Everything below is owned exclusively by loop(); no other goroutine
	// may read or write it.
	histories          map[string]*consensus.History
	budget             budget.Budget
	overBudget         bool
	dismissing         bool
	pendingActions     map[ids.ActionID]PendingAction
	batchRouters       map[ids.ActionID]string // batch action_id -> router pid (no pendingActions entry)
	activeRouters      map[string]context.CancelFunc // router pid -> cancel
	shellRouters       map[string]string              // command_id -> router pid
	children           map[ids.AgentID]ChildInfo
	consensusScheduled  bool
	consensusRetryCount int
	waitTimer           *waitTimerState
	waitGenCounter      uint64
	todos               []store.TodoItem

	engine *consensus.Engine
}

// NewAgent constructs an Agent in the initializing state. Call Spawn (or Run
// directly) to start its mailbox loop.
func NewAgent(id, parentID ids.AgentID, parentPid string, cfg Config) *Agent {
	histories := make(map[string]*consensus.History, len(cfg.Pool.Models))
	for _, m := range cfg.Pool.Models {
		if raw, ok := cfg.InitialHistories[m]; ok {
			var turns []oracle.Turn
			if err := json.Unmarshal(raw, &turns); err != nil {
				log.Printf("component=agentproc action=restore_history_failed agent_id=%s model=%s err=%v", id, m, err)
				histories[m] = consensus.NewHistory()
				continue
			}
			histories[m] = consensus.NewHistory(turns...)
			continue
		}
		histories[m] = consensus.NewHistory()
	}

	children := make(map[ids.AgentID]ChildInfo, len(cfg.InitialChildren))
	for childID, info := range cfg.InitialChildren {
		children[childID] = info
	}

	return &Agent{
		id:             id,
		parentID:       parentID,
		parentPid:      parentPid,
		cfg:            cfg,
		mailbox:        make(chan Message, mailboxCapacity),
		doneCh:         make(chan struct{}),
		state:          StateInitializing,
		histories:      histories,
		budget:         cfg.Budget,
		pendingActions: make(map[ids.ActionID]PendingAction),
		batchRouters:   make(map[ids.ActionID]string),
		activeRouters:  make(map[string]context.CancelFunc),
		shellRouters:   make(map[string]string),
		children:       children,
		todos:          append([]store.TodoItem(nil), cfg.InitialTodos...),
		engine:         consensus.New(cfg.OracleClient, cfg.Pool, cfg.Consensus),
	}
}

// ID returns the agent's identity.
func (a *Agent) ID() ids.AgentID { return a.id }

// OverBudget reports the Agent's latched over_budget flag (invariant I3):
// once true, it never clears. Only meaningful from inside loop(); exported
// for tests that drive handlers directly.
func (a *Agent) OverBudget() bool { return a.overBudget }

// Dismissing reports whether a dismiss has been requested for this Agent.
func (a *Agent) Dismissing() bool { return a.dismissing }

// State returns the Agent's current lifecycle state.
func (a *Agent) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
	if s == StateReady {
		a.wakeReadyWaiters()
	}
}

// WaitForReady blocks until the Agent leaves the initializing state, or ctx
// is cancelled.
func (a *Agent) WaitForReady(ctx context.Context) error {
	if a.State() != StateInitializing {
		return nil
	}
	ch := make(chan struct{})
	a.readyMu.Lock()
	a.readyWaiters = append(a.readyWaiters, ch)
	a.readyMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) wakeReadyWaiters() {
	a.readyMu.Lock()
	waiters := a.readyWaiters
	a.readyWaiters = nil
	a.readyMu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Send delivers a message to the mailbox, blocking if it is full. Use from
// any goroutine — sends are the only safe way to interact with a running Agent.
func (a *Agent) Send(msg Message) {
	a.mailbox <- msg
}

// Done is closed once the Agent's loop returns after termination.
func (a *Agent) Done() <-chan struct{} { return a.doneCh }

// ExitReason returns the reason this Agent terminated, valid once Done is
// closed. Reasons "normal" and "shutdown" mean intentional termination;
// anything else is an abnormal exit a one-for-one supervisor should restart.
func (a *Agent) ExitReason() string {
	a.exitMu.Lock()
	defer a.exitMu.Unlock()
	return a.exitReason
}

// Run starts the mailbox loop and blocks until the Agent terminates. Callers
// typically invoke this in its own goroutine immediately after NewAgent.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.doneCh)
	a.setState(StateReady)
	if !a.cfg.RestorationMode {
		a.persistAttrs()
	}

	for {
		select {
		case msg := <-a.mailbox:
			if a.handle(ctx, msg) {
				return
			}
		case <-ctx.Done():
			a.terminate("context cancelled")
			return
		}
	}
}

// handle dispatches one mailbox message and reports whether the Agent has terminated.
func (a *Agent) handle(ctx context.Context, msg Message) bool {
	switch m := msg.(type) {
	case AgentMessage:
		a.handleAgentMessage(ctx, m)
	case TriggerConsensus:
		a.handleTriggerConsensus(ctx)
	case WaitFired:
		a.handleWaitFired(ctx, m)
	case ActionResult:
		a.handleActionResult(ctx, m)
	case BatchActionResult:
		a.handleBatchActionResult(m)
	case BatchCompleted:
		a.handleBatchCompleted(ctx, m)
	case ChildSpawned:
		a.handleChildSpawned(m)
	case ChildDismissed:
		a.handleChildDismissed(m)
	case ChildRestored:
		a.handleChildRestored(m)
	case MonitoredDown:
		a.handleMonitoredDown(m)
	case LinkedExit:
		return a.handleLinkedExit(m)
	case StopRequested:
		a.drainTriggerConsensus()
		a.terminate("stop_requested")
		return true
	case DismissRequested:
		return a.handleDismissRequested()
	default:
		log.Printf("component=agentproc action=unknown_message agent_id=%s type=%T", a.id, msg)
	}
	// A decision cycle (stop action, exhausted consensus retries) or a parent
	// DOWN can terminate the Agent from inside the handlers above.
	return a.State() == StateTerminating
}

func (a *Agent) persistAttrs() {
	if a.cfg.Store == nil {
		return
	}
	err := a.cfg.Store.SaveAgent(store.AgentAttrs{
		AgentID:          a.id,
		ParentID:         a.parentID,
		TaskID:           a.cfg.TaskID,
		CreatedAt:        time.Now().UTC(),
		CapabilityGroups: a.cfg.CapabilityGroups,
		Budget:           a.budget.Allocated,
	})
	if err != nil {
		log.Printf("component=agentproc action=save_agent_failed agent_id=%s err=%v", a.id, err)
	}
}

func (a *Agent) publish(topic string, payload eventbus.Payload) {
	if a.cfg.Bus == nil {
		return
	}
	a.cfg.Bus.Publish(topic, payload)
}
