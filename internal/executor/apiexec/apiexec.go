// ABOUTME: ActionExecutor for the external_api action family: a generic capability-gated HTTP call.
// ABOUTME: Adapted from llm/provider.go's BaseAdapter.DoRequest header/auth plumbing, reused for side-effect calls, not LLM calls.
package apiexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// AllowlistChecker reports whether a target base URL may be called. The
// default Executor calls every URL; wiring code that wants a stricter
// policy than capability-group gating supplies its own checker.
type AllowlistChecker interface {
	Allowed(url string) bool
}

// AllowAll permits every URL.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }

// Executor performs one HTTP call per invocation, applying a default
// Authorization header (if APIKey is set) and any DefaultHeaders, then
// request-specific header overrides from params["headers"].
type Executor struct {
	APIKey         string
	DefaultHeaders map[string]string
	HTTPClient     *http.Client
	Allowlist      AllowlistChecker
}

// New creates an API Executor. timeout bounds every call this Executor makes.
func New(timeout time.Duration) *Executor {
	return &Executor{
		DefaultHeaders: map[string]string{},
		HTTPClient:     &http.Client{Timeout: timeout},
		Allowlist:      AllowAll{},
	}
}

// Execute implements router.ActionExecutor for the "external_api" action type.
func (e *Executor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return router.ExecResult{}, fmt.Errorf("apiexec: missing required %q param", "url")
	}
	if !e.Allowlist.Allowed(url) {
		return router.ExecResult{}, fmt.Errorf("apiexec: url %q not allowed", url)
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if body, ok := params["body"]; ok && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return router.ExecResult{}, fmt.Errorf("apiexec: encode body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("apiexec: build request: %w", err)
	}
	if e.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range e.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	resp, err := e.HTTPClient.Do(httpReq)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("apiexec: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("apiexec: read response body: %w", err)
	}

	return router.ExecResult{Value: map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(respBody),
	}}, nil
}
