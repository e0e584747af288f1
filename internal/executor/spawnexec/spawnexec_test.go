package spawnexec

import (
	"context"
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
	"github.com/2389-research/quoracle/internal/supervisor"
)

type stubClient struct{}

func (stubClient) Query(ctx context.Context, modelID, systemPrompt string, conversation []oracle.Turn, opts oracle.Opts) (oracle.Result, error) {
	return oracle.Result{Action: oracle.Action{Name: "continue"}}, nil
}

type nilStore struct{}

func (nilStore) SaveAgent(store.AgentAttrs) error                     { return nil }
func (nilStore) PersistACEState(store.ACEState) error                 { return nil }
func (nilStore) PersistMessage(store.MessageRecord) error             { return nil }
func (nilStore) LoadAgentsForRestore() ([]store.AgentSnapshot, error) { return nil, nil }

func testChildConfig() agentproc.Config {
	pool := oracle.Pool{Models: []string{"m1"}, FamilyOf: map[string]oracle.Family{
		"m1": {Name: "m1", MaxTemperature: 1.0, TempFloor: 0.1},
	}}
	return agentproc.Config{
		Pool:          pool,
		Consensus:     consensus.Config{MaxRounds: 0, Threshold: 0.99},
		OracleClient:  stubClient{},
		PromptBuilder: prompt.Default{},
		Profile:       prompt.ProfileContext{AgentID: "child", Role: "worker", Task: "test"},
		Executors:     map[string]router.ActionExecutor{},
		Capabilities:  router.AllowAll{},
		Store:         nilStore{},
		Bus:           eventbus.New(32),
		Budget:        budget.Budget{Mode: budget.ModeAllocated, Allocated: floatPtr(1.0), Committed: floatPtr(0)},
		TaskID:        "t1",
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestExecuteStartsChildUnderSupervisor(t *testing.T) {
	reg := registry.New()
	sup := supervisor.New(func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}, reg, nil)

	e := New(sup, func(parentID ids.AgentID, params map[string]any) (ChildSpec, error) {
		return ChildSpec{ID: ids.NewAgentID(), Config: testChildConfig()}, nil
	})

	res, err := e.Execute(context.Background(), ids.AgentID("parent-1"), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Value.(map[string]any)
	childID := ids.AgentID(m["child_id"].(string))
	if childID == "" {
		t.Fatal("expected non-empty child_id")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Lookup(childID); ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected child to appear in registry")
}

func TestExecuteThreadsBudgetAllocatedThrough(t *testing.T) {
	reg := registry.New()
	sup := supervisor.New(func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}, reg, nil)

	e := New(sup, func(parentID ids.AgentID, params map[string]any) (ChildSpec, error) {
		return ChildSpec{ID: ids.NewAgentID(), Config: testChildConfig()}, nil
	})

	res, err := e.Execute(context.Background(), ids.AgentID("parent-1"), map[string]any{"budget_allocated": 2.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Value.(map[string]any)
	got, ok := m["budget_allocated"]
	if !ok {
		t.Fatal("expected budget_allocated to be threaded into the result")
	}
	if got.(float64) != 2.5 {
		t.Fatalf("budget_allocated = %v, want 2.5", got)
	}
}

func TestExecuteOmitsBudgetAllocatedWhenNotRequested(t *testing.T) {
	reg := registry.New()
	sup := supervisor.New(func(id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
		return agentproc.NewAgent(id, parentID, parentPid, cfg)
	}, reg, nil)

	e := New(sup, func(parentID ids.AgentID, params map[string]any) (ChildSpec, error) {
		return ChildSpec{ID: ids.NewAgentID(), Config: testChildConfig()}, nil
	})

	res, err := e.Execute(context.Background(), ids.AgentID("parent-1"), map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := res.Value.(map[string]any)
	if _, ok := m["budget_allocated"]; ok {
		t.Fatal("expected no budget_allocated key when the action did not request one")
	}
}
