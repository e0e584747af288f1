package restore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/store"
)

type fakeStore struct {
	snapshots []store.AgentSnapshot
}

func (f *fakeStore) SaveAgent(store.AgentAttrs) error         { return nil }
func (f *fakeStore) PersistACEState(store.ACEState) error     { return nil }
func (f *fakeStore) PersistMessage(store.MessageRecord) error { return nil }
func (f *fakeStore) LoadAgentsForRestore() ([]store.AgentSnapshot, error) {
	return f.snapshots, nil
}

type recordedStart struct {
	id, parentID ids.AgentID
	parentPid    string
	cfg          agentproc.Config
}

type fakeStarter struct {
	mu     sync.Mutex
	starts []recordedStart
}

func (f *fakeStarter) RestoreAgent(ctx context.Context, id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent {
	f.mu.Lock()
	f.starts = append(f.starts, recordedStart{id: id, parentID: parentID, parentPid: parentPid, cfg: cfg})
	f.mu.Unlock()
	return nil
}

func snap(id, parent ids.AgentID) store.AgentSnapshot {
	return store.AgentSnapshot{
		Attrs: store.AgentAttrs{
			AgentID:   id,
			ParentID:  parent,
			TaskID:    "t1",
			CreatedAt: time.Now().UTC(),
		},
		ACE: store.ACEState{
			AgentID:        id,
			ModelHistories: map[string][]byte{"m1": []byte(`[]`)},
		},
	}
}

func TestRestorer_OrdersParentsBeforeChildren(t *testing.T) {
	parent := ids.NewAgentID()
	child := ids.NewAgentID()
	grandchild := ids.NewAgentID()

	// Deliberately out of order: grandchild, then child, then parent.
	st := &fakeStore{snapshots: []store.AgentSnapshot{
		snap(grandchild, child),
		snap(child, parent),
		snap(parent, ""),
	}}
	starter := &fakeStarter{}
	build := func(attrs store.AgentAttrs) (agentproc.Config, error) { return agentproc.Config{}, nil }

	r := New(st, starter, build)
	n, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 3 {
		t.Fatalf("restored count = %d, want 3", n)
	}

	starter.mu.Lock()
	defer starter.mu.Unlock()
	if len(starter.starts) != 3 {
		t.Fatalf("starts = %d, want 3", len(starter.starts))
	}
	order := map[ids.AgentID]int{}
	for i, s := range starter.starts {
		order[s.id] = i
	}
	if order[parent] >= order[child] {
		t.Fatalf("parent started at %d, child at %d; parent must come first", order[parent], order[child])
	}
	if order[child] >= order[grandchild] {
		t.Fatalf("child started at %d, grandchild at %d; child must come first", order[child], order[grandchild])
	}
}

func TestRestorer_SetsRestorationModeAndSeedsState(t *testing.T) {
	id := ids.NewAgentID()
	st := &fakeStore{snapshots: []store.AgentSnapshot{snap(id, "")}}
	starter := &fakeStarter{}
	build := func(attrs store.AgentAttrs) (agentproc.Config, error) { return agentproc.Config{}, nil }

	r := New(st, starter, build)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	starter.mu.Lock()
	defer starter.mu.Unlock()
	got := starter.starts[0].cfg
	if !got.RestorationMode {
		t.Fatal("RestorationMode = false, want true")
	}
	if _, ok := got.InitialHistories["m1"]; !ok {
		t.Fatal("InitialHistories missing seeded model history")
	}
}

func TestRestorer_NoSnapshotsIsNoop(t *testing.T) {
	st := &fakeStore{}
	starter := &fakeStarter{}
	build := func(attrs store.AgentAttrs) (agentproc.Config, error) { return agentproc.Config{}, nil }

	r := New(st, starter, build)
	n, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("restored count = %d, want 0", n)
	}
}

func TestRestorer_ConfigBuildErrorSkipsAgentButContinues(t *testing.T) {
	ok := ids.NewAgentID()
	bad := ids.NewAgentID()
	st := &fakeStore{snapshots: []store.AgentSnapshot{snap(ok, ""), snap(bad, "")}}
	starter := &fakeStarter{}
	build := func(attrs store.AgentAttrs) (agentproc.Config, error) {
		if attrs.AgentID == bad {
			return agentproc.Config{}, context.DeadlineExceeded
		}
		return agentproc.Config{}, nil
	}

	r := New(st, starter, build)
	n, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("restored count = %d, want 1 (bad one skipped)", n)
	}
}
