// ABOUTME: SQLite-backed PersistenceStore: agents, ace_states, and messages tables with upsert writes.
// ABOUTME: Adapted from the event-index's schema-in-Exec / ON CONFLICT DO UPDATE pattern.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/quoracle/internal/ids"
)

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// SQLiteStore is the default PersistenceStore. Safe for concurrent use —
// the underlying *sql.DB serializes writes itself.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite-backed store at path, creating its schema
// if missing.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			capability_groups TEXT NOT NULL,
			budget REAL
		);

		CREATE TABLE IF NOT EXISTS ace_states (
			agent_id TEXT PRIMARY KEY,
			model_histories TEXT NOT NULL,
			todos TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			at TEXT NOT NULL,
			FOREIGN KEY (agent_id) REFERENCES agents(agent_id)
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveAgent upserts an agent's durable attrs.
func (s *SQLiteStore) SaveAgent(attrs AgentAttrs) error {
	groups, err := json.Marshal(attrs.CapabilityGroups)
	if err != nil {
		return fmt.Errorf("marshal capability groups: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agents (agent_id, parent_id, task_id, created_at, capability_groups, budget)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			task_id = excluded.task_id,
			capability_groups = excluded.capability_groups,
			budget = excluded.budget`,
		string(attrs.AgentID),
		string(attrs.ParentID),
		attrs.TaskID,
		attrs.CreatedAt.Format(timeLayout),
		string(groups),
		attrs.Budget,
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

// PersistACEState upserts an agent's ACE state.
func (s *SQLiteStore) PersistACEState(state ACEState) error {
	histories, err := json.Marshal(state.ModelHistories)
	if err != nil {
		return fmt.Errorf("marshal model histories: %w", err)
	}
	todos, err := json.Marshal(state.Todos)
	if err != nil {
		return fmt.Errorf("marshal todos: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO ace_states (agent_id, model_histories, todos, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			model_histories = excluded.model_histories,
			todos = excluded.todos,
			updated_at = excluded.updated_at`,
		string(state.AgentID),
		string(histories),
		string(todos),
		state.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert ace state: %w", err)
	}
	return nil
}

// PersistMessage appends one message record.
func (s *SQLiteStore) PersistMessage(rec MessageRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO messages (agent_id, sender, content, at) VALUES (?, ?, ?, ?)`,
		string(rec.AgentID), string(rec.Sender), rec.Content, rec.At.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LoadAgentsForRestore loads every agent's attrs, last ACE state, and full
// message log. The Restorer is responsible for topologically ordering the
// result (parents before children) before replaying it through Supervisor.
func (s *SQLiteStore) LoadAgentsForRestore() ([]AgentSnapshot, error) {
	rows, err := s.db.Query(`SELECT agent_id, parent_id, task_id, created_at, capability_groups, budget FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []AgentSnapshot
	for rows.Next() {
		var (
			agentID, parentID, taskID, createdAt, groupsJSON string
			budget                                           sql.NullFloat64
		)
		if err := rows.Scan(&agentID, &parentID, &taskID, &createdAt, &groupsJSON, &budget); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}

		createdAtTime, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for agent %s: %w", agentID, err)
		}
		var groups []string
		if err := json.Unmarshal([]byte(groupsJSON), &groups); err != nil {
			return nil, fmt.Errorf("unmarshal capability groups for agent %s: %w", agentID, err)
		}

		attrs := AgentAttrs{
			AgentID:          ids.AgentID(agentID),
			ParentID:         ids.AgentID(parentID),
			TaskID:           taskID,
			CreatedAt:        createdAtTime,
			CapabilityGroups: groups,
		}
		if budget.Valid {
			v := budget.Float64
			attrs.Budget = &v
		}

		ace, err := s.loadACEState(ids.AgentID(agentID))
		if err != nil {
			return nil, err
		}
		messages, err := s.loadMessages(ids.AgentID(agentID))
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, AgentSnapshot{Attrs: attrs, ACE: ace, Messages: messages})
	}

	return snapshots, rows.Err()
}

func (s *SQLiteStore) loadACEState(agentID ids.AgentID) (ACEState, error) {
	var historiesJSON, todosJSON, updatedAt string
	err := s.db.QueryRow(
		`SELECT model_histories, todos, updated_at FROM ace_states WHERE agent_id = ?`,
		string(agentID),
	).Scan(&historiesJSON, &todosJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return ACEState{AgentID: agentID}, nil
	}
	if err != nil {
		return ACEState{}, fmt.Errorf("query ace state for %s: %w", agentID, err)
	}

	var histories map[string][]byte
	if err := json.Unmarshal([]byte(historiesJSON), &histories); err != nil {
		return ACEState{}, fmt.Errorf("unmarshal model histories for %s: %w", agentID, err)
	}
	var todos []TodoItem
	if err := json.Unmarshal([]byte(todosJSON), &todos); err != nil {
		return ACEState{}, fmt.Errorf("unmarshal todos for %s: %w", agentID, err)
	}
	updated, err := time.Parse(timeLayout, updatedAt)
	if err != nil {
		return ACEState{}, fmt.Errorf("parse updated_at for %s: %w", agentID, err)
	}

	return ACEState{AgentID: agentID, ModelHistories: histories, Todos: todos, UpdatedAt: updated}, nil
}

func (s *SQLiteStore) loadMessages(agentID ids.AgentID) ([]MessageRecord, error) {
	rows, err := s.db.Query(
		`SELECT sender, content, at FROM messages WHERE agent_id = ? ORDER BY id ASC`,
		string(agentID),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages for %s: %w", agentID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []MessageRecord
	for rows.Next() {
		var sender, content, at string
		if err := rows.Scan(&sender, &content, &at); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		ts, err := time.Parse(timeLayout, at)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		out = append(out, MessageRecord{AgentID: agentID, Sender: ids.AgentID(sender), Content: content, At: ts})
	}
	return out, rows.Err()
}
