// ABOUTME: Supervisor: one-for-one dynamic supervision of Agent processes, with unbounded-grace shutdown.
// ABOUTME: Adapted from the subagent manager's spawn/cancel/wait handle pattern, generalized to restart-on-abnormal-exit.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/eventbus"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/registry"
)

// AgentFactory builds a fresh, un-started Agent for id/parentID using cfg.
// Supervisor calls this both for a first start and for every restart, so a
// restart always gets a brand-new Agent value with a clean mailbox.
type AgentFactory func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent

// handle is Supervisor's own bookkeeping for one supervised agent.
type handle struct {
	id        ids.AgentID
	parentID  ids.AgentID
	parentPid string
	cfg       agentproc.Config
	agent     *agentproc.Agent
	cancel    context.CancelFunc
	mu        sync.Mutex
	stopped   bool // operator-requested stop; suppresses restart-on-abnormal-exit
}

// Supervisor starts, restarts, and stops Agent processes under a one-for-one
// policy: only the agent that exited abnormally is restarted, and only if it
// was not asked to stop. Restart never happens for reason "normal" or
// "shutdown" — those are treated as intentional termination.
type Supervisor struct {
	factory  AgentFactory
	registry *registry.Registry
	bus      *eventbus.Bus

	mu       sync.Mutex
	handles  map[ids.AgentID]*handle
}

// New builds a Supervisor that registers every started Agent in registry and
// publishes lifecycle events on bus.
func New(factory AgentFactory, reg *registry.Registry, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{
		factory:  factory,
		registry: reg,
		bus:      bus,
		handles:  make(map[ids.AgentID]*handle),
	}
}

// StartAgent starts a fresh agent under id/parentID and returns once it is
// running (not necessarily ready — callers that need readiness should call
// agentproc.Agent.WaitForReady on the returned handle).
func (s *Supervisor) StartAgent(ctx context.Context, id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
	return s.spawn(ctx, id, parentID, parentPid, cfg, false)
}

// RestoreAgent starts an agent from a prior snapshot. cfg is expected to
// already carry the agent's restored histories/todos/budget (the Restorer's
// job); Supervisor itself only handles the start/supervise/restart mechanics.
func (s *Supervisor) RestoreAgent(ctx context.Context, id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
	return s.spawn(ctx, id, parentID, parentPid, cfg, true)
}

func (s *Supervisor) spawn(ctx context.Context, id, parentID ids.AgentID, parentPid string, cfg agentproc.Config, restoring bool) *agentproc.Agent {
	agentCtx, cancel := context.WithCancel(ctx)
	agent := s.factory(id, parentID, parentPid, cfg)

	h := &handle{
		id:        id,
		parentID:  parentID,
		parentPid: parentPid,
		cfg:       cfg,
		agent:     agent,
		cancel:    cancel,
	}

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	s.registry.Register(id, parentID, agent)
	if restoring {
		log.Printf("component=supervisor action=restore agent_id=%s", id)
	}
	s.publishSpawned(id, cfg)

	go func() {
		agent.Run(agentCtx)
		s.onExit(ctx, h)
	}()

	return agent
}

func (s *Supervisor) publishSpawned(id ids.AgentID, cfg agentproc.Config) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.TopicAgentsLifecycle, eventbus.AgentSpawned{
		AgentID: string(id),
		TaskID:  cfg.TaskID,
	})
}

// onExit runs after an Agent's Run() returns. It unregisters the agent and,
// unless the exit was requested by StopAgent or the reason was normal/
// shutdown, restarts it with the same configuration (one-for-one policy).
func (s *Supervisor) onExit(ctx context.Context, h *handle) {
	h.cancel()
	s.registry.Unregister(h.id)

	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()

	s.mu.Lock()
	current, tracked := s.handles[h.id]
	s.mu.Unlock()
	if !tracked || current != h {
		// Already superseded by a later restart of the same id; nothing to do.
		return
	}

	reason := h.agent.ExitReason()
	intentional := stopped || reason == "normal" || reason == "shutdown"
	if intentional {
		s.mu.Lock()
		delete(s.handles, h.id)
		s.mu.Unlock()
		return
	}

	log.Printf("component=supervisor action=restart agent_id=%s reason=%s", h.id, reason)
	s.spawn(ctx, h.id, h.parentID, h.parentPid, h.cfg, true)
}

// StopAgent asks a supervised agent to terminate gracefully and waits for it
// to exit, with no timeout: termination must be allowed to finish its final
// persistence write however long that takes.
func (s *Supervisor) StopAgent(id ids.AgentID) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %q not supervised", id)
	}

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.agent.Send(agentproc.StopRequested{})
	<-h.agent.Done()
	return nil
}

// Lookup returns the live Agent for id, if currently supervised.
func (s *Supervisor) Lookup(id ids.AgentID) (*agentproc.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	return h.agent, true
}

// Shutdown stops every supervised agent with unbounded grace, in no
// particular order. It returns once every agent has exited.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	agentIDs := make([]ids.AgentID, 0, len(s.handles))
	for id := range s.handles {
		agentIDs = append(agentIDs, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range agentIDs {
		wg.Add(1)
		go func(id ids.AgentID) {
			defer wg.Done()
			_ = s.StopAgent(id)
		}(id)
	}
	wg.Wait()
}
