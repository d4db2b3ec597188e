// Package tools provides MCP tool implementations for tracking-engine.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/tracking-engine/pkg/auth"
	"github.com/ekaya-inc/tracking-engine/pkg/services"
)

// ToolAccessError represents an actionable error that should be returned as a
// JSON result to the MCP client, not as a Go error, so the calling model can
// see and act on it.
type ToolAccessError struct {
	Code    string
	Message string
	// MCPResult contains the pre-built MCP response for this error
	MCPResult *mcp.CallToolResult
}

func (e *ToolAccessError) Error() string {
	return e.Message
}

// AsToolAccessResult returns the prebuilt result when err is a ToolAccessError:
//
//	userID, ctx, cleanup, err := AcquireUserScope(ctx, deps, "my_tool")
//	if err != nil {
//	    if result := AsToolAccessResult(err); result != nil {
//	        return result, nil
//	    }
//	    return nil, err
//	}
func AsToolAccessResult(err error) *mcp.CallToolResult {
	var accessErr *ToolAccessError
	if errors.As(err, &accessErr) {
		return accessErr.MCPResult
	}
	return nil
}

func newToolAccessError(code, message string) *ToolAccessError {
	return &ToolAccessError{
		Code:      code,
		Message:   message,
		MCPResult: NewErrorResult(code, message),
	}
}

// ToolAccessDeps defines the common dependencies needed to run a tool on behalf of a user.
type ToolAccessDeps interface {
	GetScopes() services.ScopeProvider
	GetLogger() *zap.Logger
}

// BaseMCPToolDeps provides the common dependencies that all MCP tools need.
type BaseMCPToolDeps struct {
	Scopes services.ScopeProvider
	Logger *zap.Logger
}

// GetScopes implements ToolAccessDeps.
func (d *BaseMCPToolDeps) GetScopes() services.ScopeProvider { return d.Scopes }

// GetLogger implements ToolAccessDeps.
func (d *BaseMCPToolDeps) GetLogger() *zap.Logger { return d.Logger }

// AcquireUserScope resolves the caller from the JWT claims and opens a
// user-scoped database context for the tool.
// Missing or malformed claims come back as ToolAccessError; database failures as plain errors.
func AcquireUserScope(ctx context.Context, deps ToolAccessDeps, toolName string) (uuid.UUID, context.Context, func(), error) {
	if _, ok := auth.GetClaims(ctx); !ok {
		return uuid.Nil, nil, nil, newToolAccessError("authentication_required", "authentication required")
	}

	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return uuid.Nil, nil, nil, newToolAccessError("invalid_user_id", fmt.Sprintf("token subject is not a user ID: %v", err))
	}

	scopedCtx, cleanup, err := deps.GetScopes().WithUserScope(ctx, userID)
	if err != nil {
		deps.GetLogger().Error("Failed to acquire user scope for tool",
			zap.String("tool", toolName),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return uuid.Nil, nil, nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}

	return userID, scopedCtx, cleanup, nil
}
