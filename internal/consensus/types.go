// ABOUTME: Shared data model for the consensus cycle: per-model conversation history, decisions, and outcomes.
// ABOUTME: Histories are owned by the caller (the Agent's single-consumer mailbox) and are not safe for concurrent mutation.
package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/2389-research/quoracle/internal/oracle"
)

// DecisionEntry records one model's own proposal for one completed cycle, for
// that model's history only — per-model divergence is preserved even when a
// different model's proposal was chosen as the group's action.
type DecisionEntry struct {
	Round       int
	Action      oracle.Action
	Temperature float64
}

// History is one model's private view of the conversation: the turns it has
// seen plus its own past decisions. Call sites own a History per model and
// must serialize access themselves (Engine.Run expects single-threaded
// ownership, matching the Agent mailbox that drives it).
type History struct {
	turns []oracle.Turn
}

// NewHistory seeds a History with an initial conversation (e.g. the task
// prompt and any prior messages already exchanged with this agent).
func NewHistory(turns ...oracle.Turn) *History {
	h := &History{}
	h.turns = append(h.turns, turns...)
	return h
}

// Conversation returns a snapshot of this model's turns for building a
// query, with consecutive RoleUser turns merged into one (invariant I2):
// AppendUserTurn and AppendDeliberation both push plain user turns, and
// nothing between them guarantees an assistant turn falls in between —
// two inbound messages queued ahead of their trigger, or back-to-back
// refinement rounds, would otherwise hand an OracleClient adjacent user
// turns, which oracle.Turn's own contract (oracle/types.go) forbids.
func (h *History) Conversation() []oracle.Turn {
	return mergeAdjacentUserTurns(h.turns)
}

// mergeAdjacentUserTurns coalesces runs of consecutive RoleUser turns into
// one turn whose Content is the concatenation of the run's parts, in order.
// Non-user turns (and isolated user turns) pass through unchanged.
func mergeAdjacentUserTurns(turns []oracle.Turn) []oracle.Turn {
	out := make([]oracle.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == oracle.RoleUser && len(out) > 0 && out[len(out)-1].Role == oracle.RoleUser {
			last := &out[len(out)-1]
			last.Content = append(last.Content, t.Content...)
			continue
		}
		merged := oracle.Turn{Role: t.Role, Content: append([]oracle.ContentPart(nil), t.Content...)}
		out = append(out, merged)
	}
	return out
}

// AppendUserTurn appends a plain user-role turn (e.g. a new inbound message).
func (h *History) AppendUserTurn(text string) {
	h.turns = append(h.turns, oracle.Turn{Role: oracle.RoleUser, Content: []oracle.ContentPart{{Kind: oracle.ContentText, Text: text}}})
}

// AppendDecision appends this model's own final-round proposal as an
// assistant turn, so its next cycle sees its own prior reasoning.
func (h *History) AppendDecision(entry DecisionEntry) {
	body, err := json.Marshal(entry.Action)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"action":%q}`, entry.Action.Name))
	}
	h.turns = append(h.turns, oracle.Turn{
		Role:    oracle.RoleAssistant,
		Content: []oracle.ContentPart{{Kind: oracle.ContentText, Text: string(body)}},
	})
}

// AppendDeliberation appends a refinement-round turn summarizing the current
// round's distinct proposals, without attributing any of them to a model.
func (h *History) AppendDeliberation(text string) {
	h.turns = append(h.turns, oracle.Turn{Role: oracle.RoleUser, Content: []oracle.ContentPart{{Kind: oracle.ContentText, Text: text}}})
}

// Response is one model's result for a single fan-out round: either a
// successfully parsed action, or an error tagging it as "no answer" for
// this round (transient and permanent errors are both excluded from clustering).
type Response struct {
	ModelID string
	Action  oracle.Action
	Tokens  oracle.TokenUsage
	Err     error
}

// OK reports whether this model produced a usable proposal this round.
func (r Response) OK() bool { return r.Err == nil }

// Kind distinguishes a converged decision from one forced after exhausting
// refinement rounds without reaching the consensus threshold.
type Kind string

const (
	KindConsensus      Kind = "consensus"
	KindForcedDecision Kind = "forced_decision"
)

// Outcome is what one full ConsensusEngine cycle (all rounds) returns.
type Outcome struct {
	Kind        Kind
	Action      oracle.Action
	Round       int
	ClusterSize int
	PoolSize    int
}
