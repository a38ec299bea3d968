package turnloop

import (
	"context"
	"testing"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/turnctx"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestRunCompactionAppliesSummaryToHistory(t *testing.T) {
	history := turnctx.New()
	history.RecordItems([]protocol.ResponseItem{protocol.NewUserMessage("hello"), protocol.NewAssistantMessage("hi there")})

	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputTextDelta, Delta: "summary of the conversation"}, {Kind: modelstream.StreamCompleted}},
	}}

	if err := RunCompaction(context.Background(), client, nil, history); err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}

	contents := history.Contents()
	found := false
	for _, item := range contents {
		if item.TextContent() == "summary of the conversation" {
			found = true
		}
	}
	if !found {
		t.Errorf("history %v does not contain the summary text", contents)
	}
}

func TestRunCompactionErrorsOnEmptySummary(t *testing.T) {
	history := turnctx.New()
	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamCompleted}},
	}}

	if err := RunCompaction(context.Background(), client, nil, history); err == nil {
		t.Fatal("expected an error for an empty summary")
	}
}
