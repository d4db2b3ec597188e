package llm

import (
	"context"
)

// MockLLMClient is a ToolClient for tests in other packages.
// Set the func fields to control behaviour; unset ones return zero values.
type MockLLMClient struct {
	GenerateResponseFunc  func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error)
	GenerateWithToolsFunc func(ctx context.Context, req *ToolRequest, executor ToolExecutor) (string, error)
	Model                 string

	GenerateResponseCalls  int
	GenerateWithToolsCalls int
	LastToolRequest        *ToolRequest
}

// NewMockLLMClient returns a mock reporting model "mock-model".
func NewMockLLMClient() *MockLLMClient {
	return &MockLLMClient{Model: "mock-model"}
}

func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	m.GenerateResponseCalls++
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return "", nil
}

func (m *MockLLMClient) GenerateWithTools(ctx context.Context, req *ToolRequest, executor ToolExecutor) (string, error) {
	m.GenerateWithToolsCalls++
	m.LastToolRequest = req
	if m.GenerateWithToolsFunc != nil {
		return m.GenerateWithToolsFunc(ctx, req, executor)
	}
	return "", nil
}

func (m *MockLLMClient) GetModel() string {
	return m.Model
}

var _ ToolClient = (*MockLLMClient)(nil)
