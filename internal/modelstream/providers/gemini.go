package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
}

// GeminiClient implements modelstream.ModelClient against Gemini's
// GenerateContentStream API, adapted from internal/agent/providers/google.go's
// GoogleProvider: same content-part switch over text/FunctionCall, and the
// same call_id fabrication Gemini needs since its wire format carries no
// call identifiers of its own, generalized from agent.CompletionMessage/
// agent.Tool to protocol.ResponseItem/toolhub.Spec.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
}

// NewGeminiClient builds a client; config.APIKey must be non-empty.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("modelstream/gemini: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: config.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("modelstream/gemini: create client: %w", err)
	}

	return &GeminiClient{client: client, defaultModel: config.DefaultModel, maxRetries: config.MaxRetries}, nil
}

func (c *GeminiClient) Name() string         { return "gemini" }
func (c *GeminiClient) MaxStreamRetries() int { return c.maxRetries }

// Stream opens a GenerateContentStream request and translates it to
// modelstream.StreamEvent on a goroutine-fed channel.
func (c *GeminiClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	contents, err := convertGeminiContents(prompt.Input)
	if err != nil {
		return nil, fmt.Errorf("modelstream/gemini: convert history: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if prompt.BaseInstructionsOverride != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.BaseInstructionsOverride}}}
	}
	if len(prompt.Tools) > 0 {
		config.Tools = convertGeminiTools(prompt.Tools)
	}

	streamIter := c.client.Models.GenerateContentStream(ctx, c.defaultModel, contents, config)

	out := make(chan modelstream.StreamEvent)
	go func() {
		defer close(out)
		out <- modelstream.StreamEvent{Kind: modelstream.StreamCreated}
		processGeminiStream(ctx, streamIter, out)
	}()
	return out, nil
}

// convertGeminiContents converts item history to Gemini Contents. Gemini has
// no notion of a call_id, so FunctionResponse parts are matched back to a
// function name via a call_id->name map built from every FunctionCall item
// seen so far, the same lookup the teacher's getToolNameFromID performs.
func convertGeminiContents(items []protocol.ResponseItem) ([]*genai.Content, error) {
	names := make(map[string]string)
	for _, item := range items {
		if item.Kind == protocol.ItemFunctionCall {
			names[item.CallID] = item.Name
		}
	}

	var result []*genai.Content
	for _, item := range items {
		content := &genai.Content{}
		switch item.Kind {
		case protocol.ItemMessage:
			content.Role = genai.RoleUser
			if item.Role == "assistant" {
				content.Role = genai.RoleModel
			}
			if text := item.TextContent(); text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: text})
			}

		case protocol.ItemFunctionCall:
			content.Role = genai.RoleModel
			var args map[string]any
			if item.Arguments != "" {
				if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
					return nil, fmt.Errorf("function_call %s: %w", item.CallID, err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: item.Name, Args: args},
			})

		case protocol.ItemFunctionCallOutput:
			content.Role = genai.RoleUser
			response := map[string]any{}
			if item.Output != nil {
				if err := json.Unmarshal([]byte(item.Output.Content), &response); err != nil {
					response = map[string]any{"result": item.Output.Content}
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: names[item.CallID], Response: response},
			})

		case protocol.ItemCustomToolCallOut:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: names[item.CallID], Response: map[string]any{"result": item.CustomOutput}},
			})

		default:
			continue
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func convertGeminiTools(specs []toolhub.Spec) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		var schemaMap map[string]any
		raw := spec.ParamsJSONSchema
		if raw == "" {
			raw = `{"type":"object","properties":{}}`
		}
		if err := json.Unmarshal([]byte(raw), &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  geminiSchemaFromMap(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchemaFromMap mirrors internal/agent/toolconv/gemini.go's
// ToGeminiSchema, walking a parsed JSON Schema map into genai.Schema.
func geminiSchemaFromMap(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchemaFromMap(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchemaFromMap(items)
	}
	return schema
}

// processGeminiStream drains a GenerateContentStream iterator into
// StreamEvents. Each FunctionCall part arrives whole (no incremental delta
// accumulation the way Anthropic/OpenAI/Bedrock stream tool arguments), so
// it is emitted as a complete StreamOutputItemDone immediately, with a
// fabricated call_id since Gemini never assigns one.
func processGeminiStream(ctx context.Context, streamIter func(yield func(*genai.GenerateContentResponse, error) bool), out chan<- modelstream.StreamEvent) {
	var inputTokens, outputTokens int64

	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if err != nil {
			return false
		}
		if resp == nil {
			return true
		}
		if resp.UsageMetadata != nil {
			inputTokens = int64(resp.UsageMetadata.PromptTokenCount)
			outputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputTextDelta, Delta: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					item := protocol.ResponseItem{
						Kind:      protocol.ItemFunctionCall,
						CallID:    fabricateGeminiCallID(part.FunctionCall.Name),
						Name:      part.FunctionCall.Name,
						Arguments: string(argsJSON),
					}
					out <- modelstream.StreamEvent{Kind: modelstream.StreamOutputItemDone, Item: &item}
				}
			}
		}
		return true
	})

	out <- modelstream.StreamEvent{
		Kind:  modelstream.StreamCompleted,
		Usage: &protocol.TokenUsage{Input: inputTokens, Output: outputTokens, Total: inputTokens + outputTokens},
	}
}

func fabricateGeminiCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}
