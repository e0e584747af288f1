package consensus

import (
	"testing"

	"github.com/2389-research/quoracle/internal/oracle"
)

func textTurn(role oracle.Role, text string) oracle.Turn {
	return oracle.Turn{Role: role, Content: []oracle.ContentPart{{Kind: oracle.ContentText, Text: text}}}
}

func TestConversationMergesAdjacentUserTurns(t *testing.T) {
	h := NewHistory(textTurn(oracle.RoleSystem, "system prompt"))
	h.AppendUserTurn("message one")
	h.AppendUserTurn("message two")
	h.AppendDecision(DecisionEntry{Round: 0, Action: oracle.Action{Name: "continue"}})
	h.AppendDeliberation("round 0 did not converge")
	h.AppendDeliberation("round 1 did not converge either")

	conv := h.Conversation()
	if len(conv) != 4 {
		t.Fatalf("expected 4 merged turns, got %d: %+v", len(conv), conv)
	}
	if conv[0].Role != oracle.RoleSystem {
		t.Fatalf("expected first turn to stay system, got %v", conv[0].Role)
	}
	if conv[1].Role != oracle.RoleUser || len(conv[1].Content) != 2 {
		t.Fatalf("expected merged 2-part user turn, got %+v", conv[1])
	}
	if conv[1].Content[0].Text != "message one" || conv[1].Content[1].Text != "message two" {
		t.Fatalf("unexpected merged content order: %+v", conv[1].Content)
	}
	if conv[2].Role != oracle.RoleAssistant {
		t.Fatalf("expected assistant turn between decision and deliberations, got %v", conv[2].Role)
	}
	if conv[3].Role != oracle.RoleUser || len(conv[3].Content) != 2 {
		t.Fatalf("expected the two deliberation turns merged into one, got %+v", conv[3])
	}
}

func TestConversationDoesNotMutateUnderlyingHistory(t *testing.T) {
	h := NewHistory()
	h.AppendUserTurn("a")
	h.AppendUserTurn("b")

	first := h.Conversation()
	first[0].Content[0].Text = "mutated"

	second := h.Conversation()
	if second[0].Content[0].Text == "mutated" {
		t.Fatal("Conversation() must return an independent copy")
	}
}
