package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/tracking-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// It is returned as a tool result rather than a protocol error so the
// details stay visible to the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad parameters, unknown IDs).
//
// Do NOT use this for system failures such as database connection errors;
// those should still return Go errors.
//
// Example:
//
//	if repo == nil {
//	    return NewErrorResult("repo_not_found", "no repo with that ID"), nil
//	}
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts actionable service errors into tool results.
// It returns nil for anything else, which the caller should return as a Go error.
func serviceErrorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", detail(err, apperrors.ErrNotFound))
	case errors.Is(err, apperrors.ErrInvalidInput):
		return NewErrorResult("invalid_parameters", detail(err, apperrors.ErrInvalidInput))
	case errors.Is(err, apperrors.ErrScanInProgress):
		return NewErrorResult("scan_in_progress", "a scan is already running for this repo")
	case errors.Is(err, apperrors.ErrGitHubNotConnected):
		return NewErrorResult("github_not_connected", "connect a GitHub account or install the GitHub App before scanning")
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return NewErrorResult("github_token_unreadable", "the stored GitHub token can no longer be decrypted; save it again")
	}
	return nil
}

// detail strips the sentinel text so only the service's explanation remains.
func detail(err, sentinel error) string {
	msg := err.Error()
	if trimmed, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return trimmed
	}
	if trimmed, ok := strings.CutSuffix(msg, ": "+sentinel.Error()); ok {
		return trimmed
	}
	return msg
}
