package providers

import (
	"testing"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestConvertOpenAIMessagesIncludesSystemAndTools(t *testing.T) {
	items := []protocol.ResponseItem{
		protocol.NewUserMessage("hi"),
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: protocol.ItemFunctionCallOutput, CallID: "c1", Output: &protocol.FunctionCallOutputPayload{Content: "ok"}},
	}
	messages, err := convertOpenAIMessages(items, "be terse")
	if err != nil {
		t.Fatalf("convertOpenAIMessages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (system + 3 items)", len(messages))
	}
	if messages[0].Role != "system" || messages[0].Content != "be terse" {
		t.Errorf("messages[0] = %+v, want system prompt first", messages[0])
	}
}

func TestConvertOpenAIToolsDefaultsEmptySchema(t *testing.T) {
	specs := []toolhub.Spec{{Name: "noop", Description: "does nothing"}}
	tools := convertOpenAITools(specs)
	if len(tools) != 1 || tools[0].Function.Name != "noop" {
		t.Fatalf("tools = %+v, want one noop tool", tools)
	}
}

func TestConvertOpenAIToolsFallsBackOnInvalidSchema(t *testing.T) {
	specs := []toolhub.Spec{{Name: "bad", Description: "x", ParamsJSONSchema: "{not json"}}
	tools := convertOpenAITools(specs)
	if len(tools) != 1 {
		t.Fatalf("tools = %+v, want one tool even with invalid schema", tools)
	}
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("Parameters = %+v, want empty object fallback", tools[0].Function.Parameters)
	}
}
