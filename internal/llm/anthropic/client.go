package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/forgecore/agentcore/internal/llm"
)

// Client implements llm.LLMProvider using the native Anthropic Messages API.
// Anthropic does not speak the OpenAI wire format, so unlike the
// openai-compatible client this one talks to the SDK's own request/response
// types and converts at the boundary.
type Client struct {
	client sdk.Client
	config *Config
}

// NewClient creates a new Anthropic client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Client{
		client: sdk.NewClient(opts...),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

func (c *Client) maxTokens() int64 {
	if c.config.MaxTokens > 0 {
		return int64(c.config.MaxTokens)
	}
	return 4096
}

// convertMessages maps canonical llm.Message history into Anthropic message
// params. System messages are extracted separately since Anthropic carries
// the system prompt outside the message list.
func convertMessages(messages []llm.Message) (system string, out []sdk.MessageParam, err error) {
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}

		var blocks []sdk.ContentBlockParamUnion
		if msg.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(msg.Content))
		}

		if msg.Role == llm.RoleTool {
			blocks = append(blocks, sdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			out = append(out, sdk.NewUserMessage(blocks...))
			continue
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if uErr := json.Unmarshal(tc.Arguments, &input); uErr != nil {
					return "", nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, uErr)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == llm.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(blocks...))
		} else {
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return system, out, nil
}

func convertTools(tools []llm.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	result := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema sdk.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
		}
		param := sdk.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", t.Name)
		}
		param.OfTool.Description = sdk.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

// CallLLM sends messages to Claude and returns the response.
func (c *Client) CallLLM(ctx context.Context, messages []llm.Message) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	system, msgs, err := convertMessages(messages)
	if err != nil {
		return llm.Message{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.config.Model),
		Messages:  msgs,
		MaxTokens: c.maxTokens(),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: system}}
	}
	if c.config.Temperature != nil {
		params.Temperature = sdk.Float(float64(*c.config.Temperature))
	}

	var resp *sdk.Message
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] Anthropic retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Message{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return llm.Message{}, fmt.Errorf("anthropic call failed after %d retries: %w", c.config.MaxRetries, lastErr)
	}

	return messageFromResponse(resp), nil
}

func messageFromResponse(resp *sdk.Message) llm.Message {
	out := llm.Message{Role: llm.RoleAssistant}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Content += variant.Text
		case sdk.ThinkingBlock:
			out.ReasoningContent += variant.Thinking
		case sdk.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: args,
			})
		}
	}
	return out
}

// CallLLMStream streams the response token-by-token via onChunk, returning
// the fully assembled message once the stream ends.
func (c *Client) CallLLMStream(ctx context.Context, messages []llm.Message, onChunk llm.StreamCallback) (llm.Message, error) {
	if onChunk == nil {
		return c.CallLLM(ctx, messages)
	}
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	system, msgs, err := convertMessages(messages)
	if err != nil {
		return llm.Message{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.config.Model),
		Messages:  msgs,
		MaxTokens: c.maxTokens(),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: system}}
	}
	if c.config.Temperature != nil {
		params.Temperature = sdk.Float(float64(*c.config.Temperature))
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	// No tools are attached to streaming requests: callers that need tool
	// calls go through CallLLMWithTools, which must see the complete set of
	// tool_use blocks before dispatching. Only text and thinking deltas can
	// arrive here.
	var content, reasoning string
	for stream.Next() {
		event := stream.Current()
		if variant, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			switch delta := variant.Delta.AsAny().(type) {
			case sdk.TextDelta:
				content += delta.Text
				onChunk(delta.Text)
			case sdk.ThinkingDelta:
				reasoning += delta.Thinking
			}
		}
	}
	if err := stream.Err(); err != nil {
		if content != "" {
			log.Printf("[LLM] Anthropic stream interrupted after %d chars: %v", len(content), err)
		} else {
			return llm.Message{}, fmt.Errorf("anthropic stream error: %w", err)
		}
	}

	return llm.Message{
		Role:             llm.RoleAssistant,
		Content:          content,
		ReasoningContent: reasoning,
	}, nil
}

// CallLLMWithTools sends messages with tool definitions for native tool use.
// Always non-streaming: the caller needs the complete set of tool_use blocks
// before dispatching, same contract as the openai-compatible client.
func (c *Client) CallLLMWithTools(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("no messages to send")
	}

	system, msgs, err := convertMessages(messages)
	if err != nil {
		return llm.Message{}, err
	}
	sdkTools, err := convertTools(tools)
	if err != nil {
		return llm.Message{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.config.Model),
		Messages:  msgs,
		MaxTokens: c.maxTokens(),
		Tools:     sdkTools,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Type: "text", Text: system}}
	}
	if c.config.Temperature != nil {
		params.Temperature = sdk.Float(float64(*c.config.Temperature))
	}

	var resp *sdk.Message
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] Anthropic FC retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Message{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return llm.Message{}, fmt.Errorf("anthropic FC call failed after %d retries: %w", c.config.MaxRetries, lastErr)
	}

	result := messageFromResponse(resp)
	if len(result.ToolCalls) > 0 {
		names := make([]string, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			names[i] = tc.Name
		}
		log.Printf("[LLM] Anthropic returned %d tool call(s): %v", len(result.ToolCalls), names)
	}
	return result, nil
}

// IsToolCallingEnabled reports whether native tool use is available. Claude
// models all support the Messages API tool-use contract, so this is always
// true for this client.
func (c *Client) IsToolCallingEnabled() bool {
	return true
}

// GetName returns the provider name.
func (c *Client) GetName() string {
	return fmt.Sprintf("anthropic (%s)", c.config.Model)
}
