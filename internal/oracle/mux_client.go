// ABOUTME: Default multi-provider OracleClient backed by mux/llm, one adapter per model family.
// ABOUTME: Routes Query by family, applies rate-limit backoff, and parses the completion into a structured Action.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	muxllm "github.com/2389-research/mux/llm"
)

// muxClient is the subset of muxllm.Client this adapter depends on, narrowed
// for testability (fakes implement this instead of the full mux SDK surface).
type muxClient interface {
	CreateMessage(ctx context.Context, req *muxllm.Request) (*muxllm.Response, error)
}

// MuxClient is the default Client implementation: one mux/llm.Client per
// family, selected by the Pool's FamilyOf mapping. It is safe for concurrent
// use — ConsensusEngine calls Query from the whole pool in parallel.
type MuxClient struct {
	pool    Pool
	clients map[string]muxClient // family name -> client
	retry   RetryPolicy
}

// NewMuxClient creates a MuxClient. clients maps family name to an already
// constructed mux/llm.Client (e.g. muxllm.NewAnthropicClient, NewOpenAIClient,
// NewGeminiClient) for that family.
func NewMuxClient(pool Pool, clients map[string]muxllm.Client) *MuxClient {
	wrapped := make(map[string]muxClient, len(clients))
	for name, c := range clients {
		wrapped[name] = c
	}
	return &MuxClient{pool: pool, clients: wrapped, retry: DefaultRetryPolicy()}
}

// Query implements Client.
func (c *MuxClient) Query(ctx context.Context, modelID string, systemPrompt string, conversation []Turn, opts Opts) (Result, error) {
	family := c.pool.FamilyFor(modelID)

	client, ok := c.clients[family.Name]
	if !ok {
		return Result{}, &PermanentError{
			SDKError: SDKError{Message: fmt.Sprintf("no oracle adapter registered for family %q (model %q)", family.Name, modelID)},
			Provider: family.Provider,
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.SimulateFailure {
		return Result{}, &TransientError{
			SDKError: SDKError{Message: "simulated failure"},
			Provider: family.Provider,
		}
	}

	req := buildRequest(modelID, systemPrompt, conversation, opts)

	var resp *muxllm.Response
	err := c.retry.Do(ctx, func() error {
		var callErr error
		resp, callErr = client.CreateMessage(ctx, req)
		if callErr != nil {
			return classifyError(callErr, family.Provider)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	action, parseErr := parseAction(resp)
	if parseErr != nil {
		return Result{}, &PermanentError{
			SDKError: SDKError{Message: "malformed oracle response", Cause: parseErr},
			Provider: family.Provider,
		}
	}

	return Result{
		Action: action,
		Tokens: TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// buildRequest translates a conversation into a mux Request. Request.System
// is systemPrompt; RoleSystem turns in the conversation are skipped.
func buildRequest(modelID, systemPrompt string, conversation []Turn, opts Opts) *muxllm.Request {
	msgs := make([]muxllm.Message, 0, len(conversation))
	for _, turn := range conversation {
		if turn.Role == RoleSystem {
			continue
		}
		msgs = append(msgs, convertTurn(turn))
	}

	return &muxllm.Request{
		Model:       modelID,
		System:      systemPrompt,
		Messages:    msgs,
		Temperature: opts.Temperature,
	}
}

func convertTurn(turn Turn) muxllm.Message {
	role := muxllm.RoleUser
	if turn.Role == RoleAssistant {
		role = muxllm.RoleAssistant
	}

	if len(turn.Content) == 1 && turn.Content[0].Kind == ContentText {
		return muxllm.Message{Role: role, Content: turn.Content[0].Text}
	}

	// Images have no mux ContentBlock equivalent and are silently dropped,
	// matching how the wider mux/llm wrapper treats unsupported content kinds.
	blocks := make([]muxllm.ContentBlock, 0, len(turn.Content))
	for _, part := range turn.Content {
		if part.Kind != ContentText {
			continue
		}
		blocks = append(blocks, muxllm.ContentBlock{Type: muxllm.ContentTypeText, Text: part.Text})
	}
	return muxllm.Message{Role: role, Blocks: blocks}
}

// actionWire is the JSON shape an oracle is expected to reply with: one
// action per response, matching the JSON Schema choices PromptBuilder
// presents (spec.md §6, "Action taxonomy exposed to oracles").
type actionWire struct {
	Action           string          `json:"action"`
	Params           json.RawMessage `json:"params"`
	Reasoning        string          `json:"reasoning"`
	Wait             json.RawMessage `json:"wait"`
	AutoCompleteTodo bool            `json:"auto_complete_todo"`
	Condense         bool            `json:"condense"`
	BugReport        string          `json:"bug_report"`
}

// parseAction extracts the text content of resp and unmarshals it into an Action.
func parseAction(resp *muxllm.Response) (Action, error) {
	text := extractText(resp)
	if text == "" {
		return Action{}, fmt.Errorf("empty completion, no action text found")
	}

	var wire actionWire
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return Action{}, fmt.Errorf("decode action JSON: %w", err)
	}
	if wire.Action == "" {
		return Action{}, fmt.Errorf("action response missing required %q field", "action")
	}

	var params map[string]any
	if len(wire.Params) > 0 {
		if err := json.Unmarshal(wire.Params, &params); err != nil {
			return Action{}, fmt.Errorf("decode action params: %w", err)
		}
	}

	wait, err := parseWait(wire.Wait)
	if err != nil {
		return Action{}, err
	}

	return Action{
		Name:             wire.Action,
		Params:           params,
		Reasoning:        wire.Reasoning,
		Wait:             wait,
		AutoCompleteTodo: wire.AutoCompleteTodo,
		Condense:         wire.Condense,
		BugReport:        wire.BugReport,
	}, nil
}

// parseWait decodes the polymorphic wait field: boolean | non-negative integer.
func parseWait(raw json.RawMessage) (WaitValue, error) {
	if len(raw) == 0 {
		return WaitValue{}, nil
	}

	var asBool bool
	if err := json.Unmarshal(raw, &asBool); err == nil {
		return WaitValue{Block: asBool}, nil
	}

	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		if asInt < 0 {
			return WaitValue{}, fmt.Errorf("wait value must be non-negative, got %d", asInt)
		}
		return WaitValue{Seconds: asInt}, nil
	}

	return WaitValue{}, fmt.Errorf("wait field must be a boolean or a non-negative integer")
}

func extractText(resp *muxllm.Response) string {
	for _, block := range resp.Content {
		if block.Type == muxllm.ContentTypeText && block.Text != "" {
			return block.Text
		}
	}
	return ""
}

// classifyError wraps a raw mux/provider error into a Transient or Permanent
// oracle error, following the detection heuristic the unified LLM client SDK
// uses for 429 responses across its Anthropic/OpenAI/Gemini adapters.
func classifyError(err error, provider string) error {
	if err == nil {
		return nil
	}
	type muxRetryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(muxRetryable); ok && r.IsRetryable() {
		return &TransientError{SDKError: SDKError{Message: "oracle call failed", Cause: err}, Provider: provider}
	}
	log.Printf("component=oracle.mux action=permanent_error provider=%s err=%v", provider, err)
	return &PermanentError{SDKError: SDKError{Message: "oracle call failed", Cause: err}, Provider: provider}
}
