package providers

import (
	"testing"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestConvertGeminiContentsResolvesFunctionResponseName(t *testing.T) {
	items := []protocol.ResponseItem{
		protocol.NewUserMessage("hi"),
		{Kind: protocol.ItemFunctionCall, CallID: "call_shell_1", Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: protocol.ItemFunctionCallOutput, CallID: "call_shell_1", Output: &protocol.FunctionCallOutputPayload{Content: `{"ok":true}`}},
	}
	contents, err := convertGeminiContents(items)
	if err != nil {
		t.Fatalf("convertGeminiContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("len(contents) = %d, want 3", len(contents))
	}
	last := contents[2]
	if len(last.Parts) != 1 || last.Parts[0].FunctionResponse == nil {
		t.Fatalf("last = %+v, want a FunctionResponse part", last)
	}
	if last.Parts[0].FunctionResponse.Name != "shell" {
		t.Errorf("FunctionResponse.Name = %q, want shell (resolved via call_id)", last.Parts[0].FunctionResponse.Name)
	}
}

func TestConvertGeminiContentsRejectsBadArguments(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: "not json"},
	}
	if _, err := convertGeminiContents(items); err == nil {
		t.Fatal("expected an error for malformed function_call arguments")
	}
}

func TestConvertGeminiToolsBuildsFunctionDeclarations(t *testing.T) {
	specs := []toolhub.Spec{{Name: "noop", Description: "does nothing", ParamsJSONSchema: `{"type":"object","properties":{"x":{"type":"string"}},"required":["x"]}`}}
	tools := convertGeminiTools(specs)
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("tools = %+v, want one declaration", tools)
	}
	decl := tools[0].FunctionDeclarations[0]
	if decl.Name != "noop" || decl.Parameters == nil || len(decl.Parameters.Required) != 1 {
		t.Errorf("decl = %+v, want noop with one required field", decl)
	}
}

func TestFabricateGeminiCallIDIsUnique(t *testing.T) {
	a := fabricateGeminiCallID("shell")
	b := fabricateGeminiCallID("shell")
	if a == b {
		t.Error("expected distinct fabricated call ids across calls")
	}
}
