package rollout

import (
	"path/filepath"
	"testing"

	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestNewWritesHeader(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, "conv-1", "be helpful", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	header, _, err := Load(r.Path())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if header.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want %q", header.ConversationID, "conv-1")
	}
	if header.UserInstructions != "be helpful" {
		t.Errorf("UserInstructions = %q, want %q", header.UserInstructions, "be helpful")
	}
}

func TestRecordItemsFiltersBackgroundAndApprovalEvents(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, "conv-2", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Shutdown()

	msg := protocol.NewUserMessage("hi")
	items := []protocol.RolloutItem{
		{Kind: protocol.RolloutResponseItem, ResponseItem: &msg},
		{Kind: protocol.RolloutEventMsg, Event: &protocol.Event{Kind: protocol.EventBackgroundEvent, Message: "noise"}},
		{Kind: protocol.RolloutEventMsg, Event: &protocol.Event{Kind: protocol.EventExecApprovalRequest}},
		{Kind: protocol.RolloutEventMsg, Event: &protocol.Event{Kind: protocol.EventAgentMessage, Text: "hello"}},
	}
	if err := r.RecordItems(items); err != nil {
		t.Fatalf("RecordItems: %v", err)
	}

	_, got, err := Load(r.Path())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Load() returned %d items, want 2 (message + agent_message event): %+v", len(got), got)
	}
	if got[0].Kind != protocol.RolloutResponseItem {
		t.Errorf("got[0].Kind = %s, want response_item", got[0].Kind)
	}
	if got[1].Kind != protocol.RolloutEventMsg || got[1].Event.Kind != protocol.EventAgentMessage {
		t.Errorf("got[1] = %+v, want agent_message event", got[1])
	}
}

func TestResumeReplaysPriorItems(t *testing.T) {
	home := t.TempDir()
	r, err := New(home, "conv-3", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	msg := protocol.NewUserMessage("first")
	if err := r.RecordItems([]protocol.RolloutItem{{Kind: protocol.RolloutResponseItem, ResponseItem: &msg}}); err != nil {
		t.Fatalf("RecordItems: %v", err)
	}
	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	path := filepath.Join(home, "sessions", "conv-3.jsonl")
	resumed, err := Resume(path)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	defer resumed.Shutdown()

	second := protocol.NewAssistantMessage("second")
	if err := resumed.RecordItems([]protocol.RolloutItem{{Kind: protocol.RolloutResponseItem, ResponseItem: &second}}); err != nil {
		t.Fatalf("RecordItems after resume: %v", err)
	}

	_, items, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Load() after resume returned %d items, want 2", len(items))
	}
}

func TestForkCopiesPriorItemsVerbatim(t *testing.T) {
	home := t.TempDir()
	src, err := New(home, "conv-src", "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	msg := protocol.NewUserMessage("original")
	if err := src.RecordItems([]protocol.RolloutItem{{Kind: protocol.RolloutResponseItem, ResponseItem: &msg}}); err != nil {
		t.Fatalf("RecordItems: %v", err)
	}
	if err := src.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	forked, err := Fork(home, src.Path(), nil)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	defer forked.Shutdown()

	_, items, err := Load(forked.Path())
	if err != nil {
		t.Fatalf("Load forked: %v", err)
	}
	if len(items) != 1 || items[0].ResponseItem.TextContent() != "original" {
		t.Fatalf("forked file missing source item: %+v", items)
	}
	if forked.Path() == src.Path() {
		t.Fatal("Fork must write a new file, not reuse the source path")
	}
}
