// ABOUTME: ActionExecutor for the mcp action family: one tool call against one configured MCP server.
// ABOUTME: Wraps github.com/modelcontextprotocol/go-sdk/mcp.Client.CallTool, the teacher's declared-but-unwired MCP dependency.
package mcpexec

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389-research/quoracle/internal/ids"
	"github.com/2389-research/quoracle/internal/router"
)

// ToolCaller is the subset of mcp.Client this executor depends on, narrowed
// for testability — fakes implement this instead of the full SDK client.
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
}

// Executor dispatches "mcp_call" actions to a configured MCP tool caller.
type Executor struct {
	Caller ToolCaller
}

// New creates an mcp Executor backed by caller.
func New(caller ToolCaller) *Executor { return &Executor{Caller: caller} }

// Execute implements router.ActionExecutor for the "mcp_call" action type.
// params must carry "server" and "tool"; "args" is passed through verbatim.
func (e *Executor) Execute(ctx context.Context, agentID ids.AgentID, params map[string]any) (router.ExecResult, error) {
	serverID, _ := params["server"].(string)
	toolName, _ := params["tool"].(string)
	if serverID == "" || toolName == "" {
		return router.ExecResult{}, fmt.Errorf("mcpexec: missing required %q/%q params", "server", "tool")
	}
	args, _ := params["args"].(map[string]any)

	result, err := e.Caller.CallTool(ctx, serverID, toolName, args)
	if err != nil {
		return router.ExecResult{}, fmt.Errorf("mcpexec: call %s.%s: %w", serverID, toolName, err)
	}

	text := firstTextContent(result)
	return router.ExecResult{Value: map[string]any{
		"server":   serverID,
		"tool":     toolName,
		"is_error": result.IsError,
		"text":     text,
	}}, nil
}

func firstTextContent(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
