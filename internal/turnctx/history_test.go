package turnctx

import (
	"reflect"
	"testing"

	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestHistoryRecordItemsPreservesOrder(t *testing.T) {
	h := New()
	h.RecordItems([]protocol.ResponseItem{protocol.NewUserMessage("hello")})
	h.RecordItems([]protocol.ResponseItem{protocol.NewAssistantMessage("hi")})

	got := h.Contents()
	if len(got) != 2 {
		t.Fatalf("Contents() len = %d, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestHistoryReplaceIsAtomic(t *testing.T) {
	h := New()
	h.RecordItems([]protocol.ResponseItem{protocol.NewUserMessage("a")})
	h.Replace([]protocol.ResponseItem{protocol.NewUserMessage("b")})

	got := h.Contents()
	if len(got) != 1 || got[0].TextContent() != "b" {
		t.Fatalf("Replace did not atomically swap history: %+v", got)
	}
}

func TestContentsReturnsACloneNotAView(t *testing.T) {
	h := New()
	h.RecordItems([]protocol.ResponseItem{protocol.NewUserMessage("a")})

	snap := h.Contents()
	snap[0] = protocol.NewUserMessage("mutated")

	if h.Contents()[0].TextContent() != "a" {
		t.Fatal("mutating a Contents() snapshot leaked into the History")
	}
}

// TestApplyCompactionMatchesRule verifies spec.md §8 invariant 5: after
// compaction with summary S, history equals
// initial_context ++ all_prior_user_messages ++ user_message(S).
func TestApplyCompactionMatchesRule(t *testing.T) {
	initial := protocol.ResponseItem{Kind: protocol.ItemMessage, Role: "developer", Content: []protocol.ContentItem{{Kind: protocol.ContentInputText, Text: "instructions"}}}
	u1 := protocol.NewUserMessage("first ask")
	a1 := protocol.NewAssistantMessage("first answer")
	u2 := protocol.NewUserMessage("second ask")
	a2 := protocol.NewAssistantMessage("second answer")

	h := New()
	h.RecordItems([]protocol.ResponseItem{initial, u1, a1, u2, a2})
	h.ApplyCompaction("condensed summary")

	want := []protocol.ResponseItem{initial, u1, u2, protocol.NewUserMessage("condensed summary")}
	got := h.Contents()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ApplyCompaction mismatch:\n got  = %+v\n want = %+v", got, want)
	}
}

// TestReconstructIsBitIdenticalToLiveCompaction verifies spec.md §8
// invariant 4: replaying a rollout prefix through Reconstruct yields
// exactly the in-memory history a live session would have at the same
// point, across a compaction boundary.
func TestReconstructIsBitIdenticalToLiveCompaction(t *testing.T) {
	initial := protocol.ResponseItem{Kind: protocol.ItemMessage, Role: "developer", Content: []protocol.ContentItem{{Kind: protocol.ContentInputText, Text: "instructions"}}}
	u1 := protocol.NewUserMessage("first ask")
	a1 := protocol.NewAssistantMessage("first answer")
	u2 := protocol.NewUserMessage("second ask")

	live := New()
	live.RecordItems([]protocol.ResponseItem{initial, u1, a1, u2})
	live.ApplyCompaction("summary one")
	live.RecordItems([]protocol.ResponseItem{protocol.NewAssistantMessage("post-compaction answer")})

	rollout := []protocol.RolloutItem{
		{Kind: protocol.RolloutResponseItem, ResponseItem: &initial},
		{Kind: protocol.RolloutResponseItem, ResponseItem: &u1},
		{Kind: protocol.RolloutResponseItem, ResponseItem: &a1},
		{Kind: protocol.RolloutResponseItem, ResponseItem: &u2},
		{Kind: protocol.RolloutCompacted, Compacted: &protocol.CompactedSummary{Summary: "summary one"}},
	}
	replayed := Reconstruct(rollout)
	post := protocol.NewAssistantMessage("post-compaction answer")
	replayed.RecordItems([]protocol.ResponseItem{post})

	if !reflect.DeepEqual(replayed.Contents(), live.Contents()) {
		t.Fatalf("Reconstruct diverged from live history:\n replayed = %+v\n live     = %+v", replayed.Contents(), live.Contents())
	}
}

func TestEstimateTokenCountGrowsWithContent(t *testing.T) {
	h := New()
	if h.EstimateTokenCount() != 0 {
		t.Fatalf("empty history should estimate 0 tokens")
	}
	h.RecordItems([]protocol.ResponseItem{protocol.NewUserMessage("0123456789abcdef")})
	if got := h.EstimateTokenCount(); got != 4 {
		t.Errorf("EstimateTokenCount() = %d, want 4 (16 chars / 4)", got)
	}
}
