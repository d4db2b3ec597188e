// Package llm talks to chat-completion models. OpenAI-compatible endpoints go
// through go-openai, Anthropic through go-anthropic. Both run the same tool loop.
package llm

import (
	"context"
)

// LLMClient generates a single completion.
type LLMClient interface {
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)
	GetModel() string
}

// ToolClient is an LLMClient that can also run a tool-calling loop.
type ToolClient interface {
	LLMClient
	// GenerateWithTools alternates model turns and tool executions until the model
	// answers without calling a tool or MaxIterations is reached.
	GenerateWithTools(ctx context.Context, req *ToolRequest, executor ToolExecutor) (string, error)
}

// ToolExecutor runs a tool by name with JSON-encoded arguments.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, arguments string) (string, error)
}

// ToolRequest is the input to GenerateWithTools.
type ToolRequest struct {
	SystemPrompt  string
	Prompt        string
	Tools         []ToolDefinition
	Temperature   float64
	MaxIterations int // 0 means the client default
}

// ToolDefinition describes a tool with a JSON Schema for its parameters.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty is one property of a tool's parameter schema.
type ParameterProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// NewToolDefinition builds a ToolDefinition with an object schema.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		p := map[string]any{"type": v.Type}
		if v.Description != "" {
			p["description"] = v.Description
		}
		if len(v.Enum) > 0 {
			p["enum"] = v.Enum
		}
		props[k] = p
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// DefaultMaxToolIterations bounds a tool loop when neither the request nor the client sets a limit.
const DefaultMaxToolIterations = 10

var (
	_ ToolClient = (*Client)(nil)
	_ ToolClient = (*AnthropicClient)(nil)
)
