package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	client        *openai.Client
	endpoint      string
	model         string
	maxIterations int
	logger        *zap.Logger
}

// Config holds connection settings for a client.
type Config struct {
	Endpoint          string // Base URL, e.g. "https://api.openai.com/v1"
	Model             string
	APIKey            string // Optional for local endpoints
	MaxToolIterations int
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:        openai.NewClientWithConfig(clientConfig),
		endpoint:      cfg.Endpoint,
		model:         cfg.Model,
		maxIterations: orDefault(cfg.MaxToolIterations, DefaultMaxToolIterations),
		logger:        logger.Named("llm"),
	}, nil
}

// GenerateResponse returns the content of a single chat completion.
func (c *Client) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(temperature),
	})
	if err != nil {
		c.logger.Error("LLM request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", ClassifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	c.logger.Debug("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// GenerateWithTools runs the tool loop. Models without native tool calling may
// emit <tool_call>{"name":...,"arguments":{...}}</tool_call> blocks instead.
func (c *Client) GenerateWithTools(ctx context.Context, req *ToolRequest, executor ToolExecutor) (string, error) {
	messages := []openai.ChatCompletionMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, def := range req.Tools {
		params, err := json.Marshal(def.Parameters)
		if err != nil {
			return "", fmt.Errorf("marshal tool %s: %w", def.Name, err)
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(params),
			},
		})
	}

	maxIterations := orDefault(req.MaxIterations, c.maxIterations)
	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Tools:       tools,
			Temperature: float32(req.Temperature),
		})
		if err != nil {
			return "", ClassifyError(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}

		msg := resp.Choices[0].Message
		calls := msg.ToolCalls
		content := msg.Content
		if len(calls) == 0 && content != "" {
			if parsed := parseTextToolCalls(content); len(parsed) > 0 {
				calls = parsed
				content = stripToolMarkup(content)
			}
		}

		c.logger.Debug("Tool loop iteration",
			zap.Int("iteration", iteration),
			zap.Int("tool_calls", len(calls)))

		if len(calls) == 0 {
			return content, nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, call := range calls {
			result, execErr := executor.ExecuteTool(ctx, call.Function.Name, call.Function.Arguments)
			if execErr != nil {
				result = fmt.Sprintf("Error executing tool: %s", execErr.Error())
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("exceeded maximum tool iterations (%d)", maxIterations)
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

var (
	textToolCallPattern = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	toolMarkupPattern   = regexp.MustCompile(`(?s)<think>.*?</think>|<tool_call>.*?</tool_call>`)
)

func parseTextToolCalls(content string) []openai.ToolCall {
	var calls []openai.ToolCall
	for i, m := range textToolCallPattern.FindAllStringSubmatch(content, -1) {
		var raw struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(m[1]), &raw); err != nil || raw.Name == "" {
			continue
		}
		args, err := json.Marshal(raw.Arguments)
		if err != nil {
			continue
		}
		calls = append(calls, openai.ToolCall{
			ID:       fmt.Sprintf("text_tool_%d", i),
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: raw.Name, Arguments: string(args)},
		})
	}
	return calls
}

func stripToolMarkup(content string) string {
	return strings.TrimSpace(toolMarkupPattern.ReplaceAllString(content, ""))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
