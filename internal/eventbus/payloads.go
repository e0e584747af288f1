// ABOUTME: Typed payload variants published on the Bus, one per EventBus topic family.
// ABOUTME: Each payload is a tagged-union member via PayloadType(), matching the EventPayload pattern used for spec mutations.
package eventbus

import "time"

// Payload is implemented by every typed event payload published on the Bus.
// It exists so subscribers can type-switch without relying on Event.Topic string matching.
type Payload interface {
	PayloadType() string
	payloadSeal()
}

// AgentSpawned is published on TopicAgentsLifecycle when a new agent starts.
type AgentSpawned struct {
	AgentID   string
	TaskID    string
	ParentPID string
	Timestamp time.Time
}

func (AgentSpawned) PayloadType() string { return "agent_spawned" }
func (AgentSpawned) payloadSeal()        {}

// AgentTerminated is published on TopicAgentsLifecycle when an agent stops.
type AgentTerminated struct {
	AgentID   string
	Reason    string
	Timestamp time.Time
}

func (AgentTerminated) PayloadType() string { return "agent_terminated" }
func (AgentTerminated) payloadSeal()        {}

// ActionStarted is published on TopicActionsAll when an ActionRouter begins work.
type ActionStarted struct {
	AgentID    string
	ActionType string
	ActionID   string
	Params     map[string]any
}

func (ActionStarted) PayloadType() string { return "action_started" }
func (ActionStarted) payloadSeal()        {}

// ActionCompleted is published on TopicActionsAll when an ActionRouter finishes.
type ActionCompleted struct {
	AgentID  string
	ActionID string
	Result   any
}

func (ActionCompleted) PayloadType() string { return "action_completed" }
func (ActionCompleted) payloadSeal()        {}

// LogEntry is published on an agent's logs topic.
type LogEntry struct {
	AgentID string
	Level   string
	Message string
	Meta    map[string]any
}

func (LogEntry) PayloadType() string { return "log_entry" }
func (LogEntry) payloadSeal()        {}

// TodosUpdated is published on an agent's lifecycle topic when its todo list changes.
type TodosUpdated struct {
	AgentID string
	Todos   []TodoSnapshot
}

func (TodosUpdated) PayloadType() string { return "todos_updated" }
func (TodosUpdated) payloadSeal()        {}

// TodoSnapshot is the wire shape of one todo item for broadcast purposes.
type TodoSnapshot struct {
	ID          string
	Description string
	Done        bool
}

// MessageReceived is published on an agent's messages topic and its task's
// messages topic when an agent_message is handled.
type MessageReceived struct {
	AgentID string
	Message AgentMessage
}

func (MessageReceived) PayloadType() string { return "message_received" }
func (MessageReceived) payloadSeal()        {}

// AgentMessage is the payload carried by an inbound agent_message.
type AgentMessage struct {
	Content string
	Sender  string
}

// CostRecorded is published on a task's costs topic whenever spend occurs.
type CostRecorded struct {
	AgentID  string
	CostType string
	Amount   float64
	Meta     map[string]any
}

func (CostRecorded) PayloadType() string { return "cost_recorded" }
func (CostRecorded) payloadSeal()        {}
