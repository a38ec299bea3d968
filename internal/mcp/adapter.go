package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolhubCaller adapts a *Manager to toolhub.MCPCaller (internal/toolhub's
// narrow "server__tool" dispatch interface), the only point where the turn
// engine's tool dispatcher reaches into the MCP client. Kept as a thin
// adapter rather than folding Manager itself into toolhub so this package
// stays a standalone, reusable MCP client independent of the engine's
// Request/Result shapes.
type ToolhubCaller struct {
	manager *Manager
}

// NewToolhubCaller wraps manager for use as a session.Deps.MCP value.
func NewToolhubCaller(manager *Manager) *ToolhubCaller {
	return &ToolhubCaller{manager: manager}
}

// Call implements toolhub.MCPCaller: unmarshal the call's JSON arguments,
// dispatch to the named server/tool, and flatten the result's content
// blocks into a single string the way the rest of toolhub.Dispatcher's
// built-in tools report output.
func (c *ToolhubCaller) Call(ctx context.Context, server, tool, argumentsJSON string) (content string, success bool, err error) {
	args := map[string]any{}
	if strings.TrimSpace(argumentsJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return fmt.Sprintf("invalid arguments: %v", err), false, nil
		}
	}

	result, err := c.manager.CallTool(ctx, server, tool, args)
	if err != nil {
		return "", false, err
	}

	var sb strings.Builder
	for i, block := range result.Content {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch block.Type {
		case "text":
			sb.WriteString(block.Text)
		case "resource":
			sb.WriteString(block.Text)
		default:
			sb.WriteString(fmt.Sprintf("[%s content omitted]", block.Type))
		}
	}
	return sb.String(), !result.IsError, nil
}
