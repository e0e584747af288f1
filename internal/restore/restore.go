// ABOUTME: Restorer: rebuilds an agent tree from PersistenceStore snapshots on startup.
// ABOUTME: Orders parents before children, then replays each snapshot through Supervisor in restoration mode.
package restore

import (
	"context"
	"fmt"
	"log"

	"github.com/2389-research/quoracle/internal/agentproc"
	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/store"
)

// ConfigBuilder turns a restored snapshot's durable attrs into a full Agent
// Config (pool, executors, prompt builder, and so on) — the parts of an
// agent's configuration the PersistenceStore never captured because they are
// supplied externally at process start (e.g. from task/profile config).
// The Restorer fills in RestorationMode, InitialHistories, InitialTodos, and
// InitialChildren itself; ConfigBuilder supplies everything else.
type ConfigBuilder func(attrs store.AgentAttrs) (agentproc.Config, error)

// Starter is the subset of Supervisor the Restorer drives. Kept narrow so
// tests can substitute a fake without depending on the full Supervisor.
type Starter interface {
	RestoreAgent(ctx context.Context, id, parentID ids.AgentID, parentPid string, cfg agentproc.Config) *agentproc.Agent
}

// Restorer rebuilds an agent tree from the last persisted snapshots.
type Restorer struct {
	store   store.PersistenceStore
	sup     Starter
	build   ConfigBuilder
}

// New builds a Restorer that reads snapshots from st, builds per-agent
// configs with build, and starts each one through sup.
func New(st store.PersistenceStore, sup Starter, build ConfigBuilder) *Restorer {
	return &Restorer{store: st, sup: sup, build: build}
}

// Run loads every persisted agent snapshot, orders parents before children,
// and starts each one through Supervisor.RestoreAgent. It returns the number
// of agents restored. A child whose parent snapshot is missing (the parent
// was deleted but the child record survived) is still restored as a root —
// its parent_id is preserved for bookkeeping but it has no live parent_pid.
func (r *Restorer) Run(ctx context.Context) (int, error) {
	snapshots, err := r.store.LoadAgentsForRestore()
	if err != nil {
		return 0, fmt.Errorf("load agents for restore: %w", err)
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	ordered, err := topoSort(snapshots)
	if err != nil {
		return 0, err
	}

	parentPids := make(map[ids.AgentID]string, len(ordered))
	restored := 0
	for _, snap := range ordered {
		cfg, err := r.build(snap.Attrs)
		if err != nil {
			log.Printf("component=restore action=config_build_failed agent_id=%s err=%v", snap.Attrs.AgentID, err)
			continue
		}
		cfg.RestorationMode = true
		cfg.InitialHistories = snap.ACE.ModelHistories
		cfg.InitialTodos = snap.ACE.Todos
		cfg.InitialChildren = childrenOf(snap.Attrs.AgentID, ordered)

		parentPid := parentPids[snap.Attrs.ParentID]
		r.sup.RestoreAgent(ctx, snap.Attrs.AgentID, snap.Attrs.ParentID, parentPid, cfg)
		parentPids[snap.Attrs.AgentID] = string(snap.Attrs.AgentID)
		restored++
	}

	return restored, nil
}

// childrenOf scans the full ordered snapshot list for direct children of id,
// producing the ChildInfo map a restored parent needs to resume tracking
// them without waiting for fresh child_spawned events.
func childrenOf(id ids.AgentID, all []store.AgentSnapshot) map[ids.AgentID]agentproc.ChildInfo {
	out := make(map[ids.AgentID]agentproc.ChildInfo)
	for _, snap := range all {
		if snap.Attrs.ParentID != id {
			continue
		}
		out[snap.Attrs.AgentID] = agentproc.ChildInfo{
			Pid:             string(snap.Attrs.AgentID),
			SpawnedAt:       snap.Attrs.CreatedAt,
			BudgetAllocated: snap.Attrs.Budget,
		}
	}
	return out
}

// topoSort orders snapshots so that every agent appears after its parent
// (if the parent is also present in the set). Detects cycles defensively,
// though a well-formed store should never produce one.
func topoSort(snapshots []store.AgentSnapshot) ([]store.AgentSnapshot, error) {
	byID := make(map[ids.AgentID]store.AgentSnapshot, len(snapshots))
	for _, s := range snapshots {
		byID[s.Attrs.AgentID] = s
	}

	var ordered []store.AgentSnapshot
	visited := make(map[ids.AgentID]bool, len(snapshots))
	visiting := make(map[ids.AgentID]bool, len(snapshots))

	var visit func(id ids.AgentID) error
	visit = func(id ids.AgentID) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("cycle detected in agent parent chain at %s", id)
		}
		snap, ok := byID[id]
		if !ok {
			return nil // parent not in this snapshot set; treat as external root
		}
		visiting[id] = true
		if snap.Attrs.ParentID != "" {
			if err := visit(snap.Attrs.ParentID); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		ordered = append(ordered, snap)
		return nil
	}

	for _, s := range snapshots {
		if err := visit(s.Attrs.AgentID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
