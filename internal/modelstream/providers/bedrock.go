package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// BedrockConfig configures a BedrockClient. Credentials fall back to the
// default AWS chain (env, IAM role) when AccessKeyID/SecretAccessKey are
// empty, mirroring internal/agent/providers/bedrock.go's BedrockConfig.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
}

// BedrockClient implements modelstream.ModelClient against the Converse
// streaming API, adapted from internal/agent/providers/bedrock.go's
// BedrockProvider: same ContentBlockStart/Delta/Stop event switch for
// accumulating tool_use input, generalized from agent.CompletionMessage/
// agent.Tool to protocol.ResponseItem/toolhub.Spec. Image attachment
// handling is out of scope here; it belongs to a later attachments layer.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
}

// NewBedrockClient builds a client, loading AWS credentials the way the
// teacher's NewBedrockProvider does.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("modelstream/bedrock: load AWS config: %w", err)
	}

	return &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

func (c *BedrockClient) Name() string         { return "bedrock" }
func (c *BedrockClient) MaxStreamRetries() int { return c.maxRetries }

// Stream opens a ConverseStream request and translates it to
// modelstream.StreamEvent on a goroutine-fed channel.
func (c *BedrockClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	messages, err := convertBedrockMessages(prompt.Input)
	if err != nil {
		return nil, fmt.Errorf("modelstream/bedrock: convert history: %w", err)
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(c.defaultModel),
		Messages: messages,
	}
	if prompt.BaseInstructionsOverride != "" {
		req.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: prompt.BaseInstructionsOverride},
		}
	}
	if len(prompt.Tools) > 0 {
		req.ToolConfig = convertBedrockTools(prompt.Tools)
	}

	stream, err := c.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, modelstream.NewStreamError("bedrock", c.defaultModel, err)
	}

	out := make(chan modelstream.StreamEvent)
	go func() {
		defer close(out)
		out <- modelstream.StreamEvent{Kind: modelstream.StreamCreated}
		processBedrockStream(stream, out)
	}()
	return out, nil
}

func convertBedrockMessages(items []protocol.ResponseItem) ([]types.Message, error) {
	result := make([]types.Message, 0, len(items))
	for _, item := range items {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch item.Kind {
		case protocol.ItemMessage:
			if item.Role == "assistant" {
				role = types.ConversationRoleAssistant
			}
			if text := item.TextContent(); text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: text})
			}

		case protocol.ItemFunctionCall:
			role = types.ConversationRoleAssistant
			var input any
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &input); err != nil {
					return nil, fmt.Errorf("function_call %s: %w", item.CallID, err)
				}
			} else {
				input = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(item.CallID),
					Name:      aws.String(item.Name),
					Input:     document.NewLazyDocument(input),
				},
			})

		case protocol.ItemFunctionCallOutput:
			text := ""
			if item.Output != nil {
				text = item.Output.Content
			}
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(item.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
				},
			})

		case protocol.ItemCustomToolCallOut:
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(item.CallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: item.CustomOutput}},
				},
			})

		default:
			continue
		}

		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func convertBedrockTools(specs []toolhub.Spec) *types.ToolConfiguration {
	tools := make([]types.Tool, len(specs))
	for i, spec := range specs {
		var schema any
		raw := spec.ParamsJSONSchema
		if raw == "" {
			raw = `{"type":"object","properties":{}}`
		}
		if err := json.Unmarshal([]byte(raw), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: tools}
}

// processBedrockStream drains a ConverseStream output into StreamEvents,
// accumulating tool_use input across ContentBlockDelta events the same way
// the teacher's BedrockProvider.processStream does.
func processBedrockStream(stream *bedrockruntime.ConverseStreamOutput, out chan<- modelstream.StreamEvent) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var toolCallID, toolName string
	var toolInput strings.Builder
	inToolUse := false
	var inputTokens, outputTokens int64

	for event := range eventStream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				toolCallID = aws.ToString(toolUse.Value.ToolUseId)
				toolName = aws.ToString(toolUse.Value.Name)
				toolInput.Reset()
				inToolUse = true
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputTextDelta, Delta: delta.Value}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					toolInput.WriteString(*delta.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if inToolUse {
				item := protocol.ResponseItem{
					Kind: protocol.ItemFunctionCall, CallID: toolCallID, Name: toolName,
					Arguments: toolInput.String(),
				}
				out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputItemDone, Item: &item}
				inToolUse = false
			}

		case *types.ConverseStreamOutputMemberMetadata:
			if u := ev.Value.Usage; u != nil {
				if u.InputTokens != nil {
					inputTokens = int64(*u.InputTokens)
				}
				if u.OutputTokens != nil {
					outputTokens = int64(*u.OutputTokens)
				}
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			out <- modelstream.StreamEvent{
				Kind:  modelstream.StreamCompleted,
				Usage: &protocol.TokenUsage{Input: inputTokens, Output: outputTokens, Total: inputTokens + outputTokens},
			}
			return
		}
	}

	if err := eventStream.Err(); err != nil {
		return
	}
	out <- modelstream.StreamEvent{Kind: modelstream.StreamCompleted}
}
