package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// requireUUIDParam reads a required UUID argument.
// A missing or malformed value yields an error result for the caller.
func requireUUIDParam(req mcp.CallToolRequest, name string) (uuid.UUID, *mcp.CallToolResult) {
	raw := trimString(req.GetString(name, ""))
	if raw == "" {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' is required", name))
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' must be a UUID, got %q", name, raw))
	}
	return id, nil
}

// jsonResult marshals v as the text content of a tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
