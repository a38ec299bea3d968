// Package providers supplies concrete ModelClient implementations for
// internal/modelstream's Stream Protocol Driver (spec.md §4.7), one per
// upstream model API. Each adapter's only job is translating
// protocol.ResponseItem history and toolhub.Spec tool definitions into the
// provider's wire format, and translating the provider's streamed events
// back into modelstream.StreamEvent.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// AnthropicConfig configures an AnthropicClient (grounded on
// internal/agent/providers/anthropic.go's AnthropicConfig).
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// AnthropicClient implements modelstream.ModelClient against Claude's
// Messages streaming API.
//
// Adapted from internal/agent/providers/anthropic.go's AnthropicProvider:
// same SSE event switch (content_block_start/delta/stop, message_delta,
// message_stop) and the same message/tool conversion helpers, generalized
// from agent.CompletionRequest/CompletionMessage to
// protocol.ResponseItem/toolhub.Spec.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
}

// NewAnthropicClient builds a client; config.APIKey must be non-empty.
func NewAnthropicClient(config AnthropicConfig) (*AnthropicClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("modelstream/anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
	}, nil
}

func (c *AnthropicClient) Name() string         { return "anthropic" }
func (c *AnthropicClient) MaxStreamRetries() int { return c.maxRetries }

// Stream opens a Messages streaming request and translates it to
// modelstream.StreamEvent on a goroutine-fed channel.
func (c *AnthropicClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	messages, err := convertHistory(prompt.Input)
	if err != nil {
		return nil, fmt.Errorf("modelstream/anthropic: convert history: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.defaultModel),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if prompt.BaseInstructionsOverride != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: prompt.BaseInstructionsOverride}}
	}
	if len(prompt.Tools) > 0 {
		tools, err := convertTools(prompt.Tools)
		if err != nil {
			return nil, fmt.Errorf("modelstream/anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	out := make(chan modelstream.StreamEvent)
	go func() {
		defer close(out)
		out <- modelstream.StreamEvent{Kind: modelstream.StreamCreated}
		processStream(stream, out, c.defaultModel)
	}()
	return out, nil
}

func convertHistory(items []protocol.ResponseItem) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, item := range items {
		switch item.Kind {
		case protocol.ItemMessage:
			var blocks []anthropic.ContentBlockParamUnion
			if text := item.TextContent(); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
			if len(blocks) == 0 {
				continue
			}
			if item.Role == "assistant" {
				result = append(result, anthropic.NewAssistantMessage(blocks...))
			} else {
				result = append(result, anthropic.NewUserMessage(blocks...))
			}

		case protocol.ItemFunctionCall:
			var input map[string]interface{}
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
					return nil, fmt.Errorf("function_call %s: %w", item.CallID, err)
				}
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(item.CallID, input, item.Name),
			))

		case protocol.ItemFunctionCallOutput:
			content, success := "", true
			if item.Output != nil {
				content = item.Output.Content
				if item.Output.Success != nil {
					success = *item.Output.Success
				}
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(item.CallID, content, !success),
			))

		case protocol.ItemCustomToolCallOut:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(item.CallID, item.CustomOutput, false),
			))
		}
	}
	return result, nil
}

func convertTools(specs []toolhub.Spec) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		raw := spec.ParamsJSONSchema
		if raw == "" {
			raw = `{"type":"object","properties":{}}`
		}
		if err := json.Unmarshal([]byte(raw), &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", spec.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s: missing tool definition", spec.Name)
		}
		toolParam.OfTool.Description = anthropic.String(spec.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// processStream drains an Anthropic SSE stream into StreamEvents,
// accumulating tool_use input across input_json_delta events the same way
// the teacher's AnthropicProvider.processStream does.
func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- modelstream.StreamEvent, model string) {
	var toolCallID, toolName string
	var toolInput strings.Builder
	inToolUse := false
	var inputTokens, outputTokens int64

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolCallID, toolName = toolUse.ID, toolUse.Name
				toolInput.Reset()
				inToolUse = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputTextDelta, Delta: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- modelstream.StreamEvent{Kind: modelstream.StreamReasoningContentDelta, Delta: delta.Thinking}
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if inToolUse {
				item := protocol.ResponseItem{
					Kind: protocol.ItemFunctionCall, CallID: toolCallID, Name: toolName,
					Arguments: toolInput.String(),
				}
				out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputItemDone, Item: &item}
				inToolUse = false
			}

		case "message_start":
			if u := event.AsMessageStart().Message.Usage; u.InputTokens > 0 {
				inputTokens = u.InputTokens
			}

		case "message_delta":
			if u := event.AsMessageDelta().Usage; u.OutputTokens > 0 {
				outputTokens = u.OutputTokens
			}

		case "message_stop":
			out <- modelstream.StreamEvent{
				Kind:  modelstream.StreamCompleted,
				Usage: &protocol.TokenUsage{Input: inputTokens, Output: outputTokens, Total: inputTokens + outputTokens},
			}
			return

		case "error":
			return
		}
	}
}
