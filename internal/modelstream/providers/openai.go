package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// OpenAIClient implements modelstream.ModelClient against the Chat
// Completions streaming API.
//
// Adapted from internal/agent/providers/openai.go's OpenAIProvider: same
// per-index tool-call accumulation across streamed deltas, generalized
// from agent.CompletionRequest/CompletionMessage to
// protocol.ResponseItem/toolhub.Spec, and using modelstream.ClassifyError
// in place of the teacher's bespoke contains/findSubstring matching.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
}

// NewOpenAIClient builds a client; config.APIKey must be non-empty.
func NewOpenAIClient(config OpenAIConfig) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("modelstream/openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
	}, nil
}

func (c *OpenAIClient) Name() string         { return "openai" }
func (c *OpenAIClient) MaxStreamRetries() int { return c.maxRetries }

// Stream opens a chat completion streaming request and translates it to
// modelstream.StreamEvent on a goroutine-fed channel.
func (c *OpenAIClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	messages, err := convertOpenAIMessages(prompt.Input, prompt.BaseInstructionsOverride)
	if err != nil {
		return nil, fmt.Errorf("modelstream/openai: convert history: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    c.defaultModel,
		Messages: messages,
		Stream:   true,
	}
	if len(prompt.Tools) > 0 {
		req.Tools = convertOpenAITools(prompt.Tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		se := modelstream.NewStreamError("openai", c.defaultModel, err)
		return nil, se
	}

	out := make(chan modelstream.StreamEvent)
	go func() {
		defer close(out)
		out <- modelstream.StreamEvent{Kind: modelstream.StreamCreated}
		processOpenAIStream(stream, out)
	}()
	return out, nil
}

func convertOpenAIMessages(items []protocol.ResponseItem, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(items)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, item := range items {
		switch item.Kind {
		case protocol.ItemMessage:
			if text := item.TextContent(); text != "" {
				role := openai.ChatMessageRoleUser
				if item.Role == "assistant" {
					role = openai.ChatMessageRoleAssistant
				}
				result = append(result, openai.ChatCompletionMessage{Role: role, Content: text})
			}

		case protocol.ItemFunctionCall:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})

		case protocol.ItemFunctionCallOutput:
			content := ""
			if item.Output != nil {
				content = item.Output.Content
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: item.CallID,
			})

		case protocol.ItemCustomToolCallOut:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    item.CustomOutput,
				ToolCallID: item.CallID,
			})
		}
	}
	return result, nil
}

func convertOpenAITools(specs []toolhub.Spec) []openai.Tool {
	result := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schemaMap map[string]any
		raw := spec.ParamsJSONSchema
		if raw == "" {
			raw = `{"type":"object","properties":{}}`
		}
		if err := json.Unmarshal([]byte(raw), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

// processOpenAIStream drains a ChatCompletionStream into StreamEvents,
// accumulating tool-call arguments by index across deltas the same way the
// teacher's OpenAIProvider.processStream does, and emitting completed tool
// calls either on a tool_calls finish reason or at end of stream.
func processOpenAIStream(stream *openai.ChatCompletionStream, out chan<- modelstream.StreamEvent) {
	defer stream.Close()

	type partial struct {
		id, name string
		args     []byte
	}
	toolCalls := make(map[int]*partial)
	order := make([]int, 0)
	var inputTokens, outputTokens int64

	emit := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.id == "" || tc.name == "" {
				continue
			}
			item := protocol.ResponseItem{
				Kind: protocol.ItemFunctionCall, CallID: tc.id, Name: tc.name,
				Arguments: string(tc.args),
			}
			out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputItemDone, Item: &item}
		}
		toolCalls = make(map[int]*partial)
		order = order[:0]
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				emit()
				out <- modelstream.StreamEvent{
					Kind:  modelstream.StreamCompleted,
					Usage: &protocol.TokenUsage{Input: inputTokens, Output: outputTokens, Total: inputTokens + outputTokens},
				}
				return
			}
			return
		}

		if resp.Usage != nil {
			inputTokens = int64(resp.Usage.PromptTokens)
			outputTokens = int64(resp.Usage.CompletionTokens)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputTextDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &partial{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].id = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].args = append(toolCalls[index].args, []byte(tc.Function.Arguments)...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emit()
		}
	}
}
