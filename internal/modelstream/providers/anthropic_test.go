package providers

import (
	"testing"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestConvertHistoryRoundTrip(t *testing.T) {
	success := true
	items := []protocol.ResponseItem{
		protocol.NewUserMessage("hello"),
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: `{"command":["echo","hi"]}`},
		{Kind: protocol.ItemFunctionCallOutput, CallID: "c1", Output: &protocol.FunctionCallOutputPayload{Content: "hi\n", Success: &success}},
		{Kind: protocol.ItemCustomToolCallOut, CallID: "c2", CustomOutput: "aborted"},
	}

	messages, err := convertHistory(items)
	if err != nil {
		t.Fatalf("convertHistory: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(messages))
	}
}

func TestConvertHistorySkipsEmptyMessage(t *testing.T) {
	items := []protocol.ResponseItem{{Kind: protocol.ItemMessage, Role: "user"}}
	messages, err := convertHistory(items)
	if err != nil {
		t.Fatalf("convertHistory: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("len(messages) = %d, want 0 for an empty message", len(messages))
	}
}

func TestConvertHistoryRejectsBadArguments(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: "not json"},
	}
	if _, err := convertHistory(items); err == nil {
		t.Fatal("expected an error for malformed function_call arguments")
	}
}

func TestConvertToolsDefaultsEmptySchema(t *testing.T) {
	specs := []toolhub.Spec{{Name: "noop", Description: "does nothing"}}
	tools, err := convertTools(specs)
	if err != nil {
		t.Fatalf("convertTools: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("tools = %+v, want one tool definition", tools)
	}
	if tools[0].OfTool.Name != "noop" {
		t.Errorf("Name = %q, want noop", tools[0].OfTool.Name)
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	specs := []toolhub.Spec{{Name: "bad", Description: "x", ParamsJSONSchema: "{not json"}}
	if _, err := convertTools(specs); err == nil {
		t.Fatal("expected an error for invalid JSON schema")
	}
}
