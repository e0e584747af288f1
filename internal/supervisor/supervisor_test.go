package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/budget"
	"github.com/2389-research/quoracle/internal/consensus"
	"github.com/2389-research/quoracle/internal/eventbus"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/oracle"
	"github.com/2389-research/quoracle/internal/prompt"
	"github.com/2389-research/quoracle/internal/registry"
	"github.com/2389-research/quoracle/internal/router"
	"github.com/2389-research/quoracle/internal/store"
)

// stubClient always proposes "continue", so an agent never stops on its own;
// tests end it through the Supervisor or a linked exit.
type stubClient struct{}

func (stubClient) Query(ctx context.Context, modelID, systemPrompt string, conversation []oracle.Turn, opts oracle.Opts) (oracle.Result, error) {
	return oracle.Result{Action: oracle.Action{Name: "continue"}}, nil
}

type nilStore struct{}

func (nilStore) SaveAgent(store.AgentAttrs) error               { return nil }
func (nilStore) PersistACEState(store.ACEState) error           { return nil }
func (nilStore) PersistMessage(store.MessageRecord) error       { return nil }
func (nilStore) LoadAgentsForRestore() ([]store.AgentSnapshot, error) { return nil, nil }

func testCfg() agentproc.Config {
	pool := oracle.Pool{Models: []string{"m1"}, FamilyOf: map[string]oracle.Family{
		"m1": {Name: "m1", MaxTemperature: 1.0, TempFloor: 0.1},
	}}
	return agentproc.Config{
		Pool:          pool,
		Consensus:     consensus.Config{MaxRounds: 0, Threshold: 0.99},
		OracleClient:  stubClient{},
		PromptBuilder: prompt.Default{},
		Profile:       prompt.ProfileContext{AgentID: "a1", Role: "worker", Task: "test"},
		Executors:     map[string]router.ActionExecutor{},
		Capabilities:  router.AllowAll{},
		Store:         nilStore{},
		Bus:           eventbus.New(32),
		Budget:        budget.Budget{Mode: budget.ModeRoot},
		TaskID:        "t1",
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSupervisor_StartAgentRegistersAndRunsUntilStopped(t *testing.T) {
	reg := registry.New()
	factory := func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}
	sup := New(factory, reg, eventbus.New(32))

	id := ids.NewAgentID()
	agent := sup.StartAgent(context.Background(), id, "", "", testCfg())
	if agent == nil {
		t.Fatal("StartAgent returned nil")
	}

	waitFor(t, time.Second, func() bool {
		_, ok := reg.Lookup(id)
		return ok
	})

	if err := sup.StopAgent(id); err != nil {
		t.Fatalf("StopAgent: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, ok := reg.Lookup(id)
		return !ok
	})
}

func TestSupervisor_StopAgentIsIdempotentToLookupMiss(t *testing.T) {
	reg := registry.New()
	factory := func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}
	sup := New(factory, reg, eventbus.New(32))

	if err := sup.StopAgent(ids.NewAgentID()); err == nil {
		t.Fatal("StopAgent on an unsupervised id returned nil error, want an error")
	}
}

func TestSupervisor_RestartsOnAbnormalExit(t *testing.T) {
	reg := registry.New()
	var mu sync.Mutex
	var spawnCount int

	factory := func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		mu.Lock()
		spawnCount++
		n := spawnCount
		mu.Unlock()
		agent := agentproc.NewAgent(id, parentID, parentPid, cfg)
		if n == 1 {
			// Force the first incarnation to exit abnormally almost immediately
			// by sending it an abnormal linked exit right after it becomes ready.
			go func() {
				_ = agent.WaitForReady(context.Background())
				agent.Send(agentproc.LinkedExit{Pid: "nonexistent-router", Reason: "worker_crash"})
			}()
		}
		return agent
	}
	sup := New(factory, reg, eventbus.New(32))

	id := ids.NewAgentID()
	sup.StartAgent(context.Background(), id, "", "", testCfg())

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return spawnCount >= 2
	})

	_ = sup.StopAgent(id)
}

func TestSupervisor_ShutdownStopsAllAgents(t *testing.T) {
	reg := registry.New()
	factory := func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}
	sup := New(factory, reg, eventbus.New(32))

	ids1 := ids.NewAgentID()
	ids2 := ids.NewAgentID()
	sup.StartAgent(context.Background(), ids1, "", "", testCfg())
	sup.StartAgent(context.Background(), ids2, "", "", testCfg())

	waitFor(t, time.Second, func() bool {
		_, ok1 := reg.Lookup(ids1)
		_, ok2 := reg.Lookup(ids2)
		return ok1 && ok2
	})

	sup.Shutdown()

	// Unregistration runs after each agent's Done closes, so wait for it.
	waitFor(t, time.Second, func() bool {
		_, ok1 := reg.Lookup(ids1)
		_, ok2 := reg.Lookup(ids2)
		return !ok1 && !ok2
	})

	if _, ok := reg.Lookup(ids1); ok {
		t.Fatal("agent 1 still registered after Shutdown")
	}
	if _, ok := reg.Lookup(ids2); ok {
		t.Fatal("agent 2 still registered after Shutdown")
	}
}
