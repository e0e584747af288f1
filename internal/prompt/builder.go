// ABOUTME: PromptBuilder boundary interface consumed by the Agent to assemble each cycle's system prompt.
// ABOUTME: Content assembly (the actual prose) is intentionally out of scope; Default below is structural only.
package prompt

import "encoding/json"

// ProfileContext carries whatever identifies the agent's role/task to the
// prompt builder (e.g. a role name, a task description, free-form notes).
// Its shape is a deliberate boundary: callers own what goes in it.
type ProfileContext struct {
	AgentID string
	Role    string
	Task    string
	Notes   string
}

// Builder assembles a system prompt from an agent's current profile,
// granted capability groups, the action schema it may choose from this
// cycle, active skills, and the response schema oracles must conform to.
type Builder interface {
	BuildSystemPrompt(
		profile ProfileContext,
		capabilityGroups []string,
		allowedActions []string,
		activeSkills []string,
		responseSchema json.RawMessage,
	) string
}

// Default is a structural PromptBuilder: it lists the sections a prompt
// needs (identity, capabilities, allowed actions, skills, response schema)
// without prescribing their prose. Concrete deployments are expected to
// supply their own Builder; Default exists so the rest of the system has
// something to wire against and to exercise in tests.
type Default struct{}

func (Default) BuildSystemPrompt(
	profile ProfileContext,
	capabilityGroups []string,
	allowedActions []string,
	activeSkills []string,
	responseSchema json.RawMessage,
) string {
	b, _ := json.Marshal(struct {
		AgentID          string          `json:"agent_id"`
		Role             string          `json:"role"`
		Task             string          `json:"task"`
		Notes            string          `json:"notes,omitempty"`
		CapabilityGroups []string        `json:"capability_groups"`
		AllowedActions   []string        `json:"allowed_actions"`
		ActiveSkills     []string        `json:"active_skills,omitempty"`
		ResponseSchema   json.RawMessage `json:"response_schema"`
	}{
		AgentID:          profile.AgentID,
		Role:             profile.Role,
		Task:             profile.Task,
		Notes:            profile.Notes,
		CapabilityGroups: capabilityGroups,
		AllowedActions:   allowedActions,
		ActiveSkills:     activeSkills,
		ResponseSchema:   responseSchema,
	})
	return string(b)
}
