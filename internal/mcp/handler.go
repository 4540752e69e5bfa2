package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/proposalgate/proposalgate/internal/service"
)

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalStringSlice extracts an optional string slice argument from the tool request.
func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	return request.GetStringSlice(key, nil)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError reports a service failure with its stable reason.
func serviceError(action string, err error) (*mcp.CallToolResult, error) {
	return toolError("%s failed (%s): %v", action, service.Reason(err), err)
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
