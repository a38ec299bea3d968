package providers

import (
	"testing"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestConvertBedrockMessagesRoundTrip(t *testing.T) {
	success := true
	items := []protocol.ResponseItem{
		protocol.NewUserMessage("hello"),
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: `{"command":["ls"]}`},
		{Kind: protocol.ItemFunctionCallOutput, CallID: "c1", Output: &protocol.FunctionCallOutputPayload{Content: "ok", Success: &success}},
		{Kind: protocol.ItemCustomToolCallOut, CallID: "c2", CustomOutput: "aborted"},
	}
	messages, err := convertBedrockMessages(items)
	if err != nil {
		t.Fatalf("convertBedrockMessages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("len(messages) = %d, want 4", len(messages))
	}
}

func TestConvertBedrockMessagesRejectsBadArguments(t *testing.T) {
	items := []protocol.ResponseItem{
		{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "shell", Arguments: "not json"},
	}
	if _, err := convertBedrockMessages(items); err == nil {
		t.Fatal("expected an error for malformed function_call arguments")
	}
}

func TestConvertBedrockToolsDefaultsEmptySchema(t *testing.T) {
	specs := []toolhub.Spec{{Name: "noop", Description: "does nothing"}}
	cfg := convertBedrockTools(specs)
	if cfg == nil || len(cfg.Tools) != 1 {
		t.Fatalf("cfg = %+v, want one tool", cfg)
	}
}
