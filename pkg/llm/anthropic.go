package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// anthropicMaxTokens caps every Anthropic response.
const anthropicMaxTokens = 4096

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client        *anthropic.Client
	model         string
	maxIterations int
	logger        *zap.Logger
}

// NewAnthropicClient creates a client. Endpoint is optional and overrides the API base URL.
func NewAnthropicClient(cfg *Config, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/")))
	}

	return &AnthropicClient{
		client:        anthropic.NewClient(cfg.APIKey, opts...),
		model:         cfg.Model,
		maxIterations: orDefault(cfg.MaxToolIterations, DefaultMaxToolIterations),
		logger:        logger.Named("llm.anthropic"),
	}, nil
}

// GenerateResponse returns the text of a single message.
func (c *AnthropicClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error) {
	start := time.Now()
	temp := float32(temperature)
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   anthropicMaxTokens,
		Temperature: &temp,
		Messages:    []anthropic.Message{anthropic.NewUserTextMessage(prompt)},
	})
	if err != nil {
		c.logger.Error("LLM request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return "", ClassifyError(err)
	}

	c.logger.Debug("LLM request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return textContent(resp.Content), nil
}

// GenerateWithTools runs the tool loop using tool_use and tool_result blocks.
func (c *AnthropicClient) GenerateWithTools(ctx context.Context, req *ToolRequest, executor ToolExecutor) (string, error) {
	tools := make([]anthropic.ToolDefinition, 0, len(req.Tools))
	for _, def := range req.Tools {
		tools = append(tools, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}

	temp := float32(req.Temperature)
	messages := []anthropic.Message{anthropic.NewUserTextMessage(req.Prompt)}
	maxIterations := orDefault(req.MaxIterations, c.maxIterations)

	for iteration := 0; iteration < maxIterations; iteration++ {
		resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
			Model:       anthropic.Model(c.model),
			System:      req.SystemPrompt,
			MaxTokens:   anthropicMaxTokens,
			Temperature: &temp,
			Messages:    messages,
			Tools:       tools,
		})
		if err != nil {
			return "", ClassifyError(err)
		}

		var results []anthropic.MessageContent
		for _, block := range resp.Content {
			if block.Type != anthropic.MessagesContentTypeToolUse || block.MessageContentToolUse == nil {
				continue
			}
			use := block.MessageContentToolUse
			output, execErr := executor.ExecuteTool(ctx, use.Name, string(use.Input))
			if execErr != nil {
				output = fmt.Sprintf("Error executing tool: %s", execErr.Error())
			}
			results = append(results, anthropic.NewToolResultMessageContent(use.ID, output, execErr != nil))
		}

		c.logger.Debug("Tool loop iteration",
			zap.Int("iteration", iteration),
			zap.Int("tool_calls", len(results)),
			zap.String("stop_reason", string(resp.StopReason)))

		if len(results) == 0 {
			return textContent(resp.Content), nil
		}

		messages = append(messages,
			anthropic.Message{Role: anthropic.RoleAssistant, Content: resp.Content},
			anthropic.Message{Role: anthropic.RoleUser, Content: results},
		)
	}

	return "", fmt.Errorf("exceeded maximum tool iterations (%d)", maxIterations)
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

func textContent(blocks []anthropic.MessageContent) string {
	var sb strings.Builder
	for _, block := range blocks {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	return sb.String()
}
