package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// healthCheckTimeout bounds each component check.
const healthCheckTimeout = 2 * time.Second

// ComponentCheck reports whether a backing component is reachable.
type ComponentCheck func(ctx context.Context) error

type healthResult struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// The tool returns the server version and, for each check, "ok" or "unavailable".
// Status is "degraded" when any check fails.
func RegisterHealthTool(s *server.MCPServer, version string, checks map[string]ComponentCheck) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		health := healthResult{Status: "ok", Version: version}
		if len(names) > 0 {
			health.Components = make(map[string]string, len(names))
		}
		for _, name := range names {
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := checks[name](checkCtx)
			cancel()
			if err != nil {
				health.Components[name] = "unavailable"
				health.Status = "degraded"
				continue
			}
			health.Components[name] = "ok"
		}

		result, err := json.Marshal(health)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
