// Package turnctx implements the Context Manager (spec.md §4.1): the
// in-memory ConversationHistory a turn loop sends to the model and that
// the rollout recorder's records are replayed into on resume.
package turnctx

import (
	"sync"

	"github.com/codexturn/codexturn/pkg/protocol"
)

// History maintains the ordered ResponseItem list for one conversation.
// Safe for concurrent use: the turn loop appends from the streaming
// goroutine while a submission loop snapshot (contents) may be read by the
// rollout recorder or token-count bookkeeping concurrently.
type History struct {
	mu    sync.RWMutex
	items []protocol.ResponseItem
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// RecordItems appends items in order. No deduplication: the caller is
// responsible for not re-recording an item already present.
func (h *History) RecordItems(items []protocol.ResponseItem) {
	if len(items) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, items...)
}

// Replace atomically swaps the entire history, used after compaction.
func (h *History) Replace(items []protocol.ResponseItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append([]protocol.ResponseItem(nil), items...)
}

// Contents returns a clone of the current history, safe for the caller to
// mutate or hand to a model stream / rollout writer.
func (h *History) Contents() []protocol.ResponseItem {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]protocol.ResponseItem(nil), h.items...)
}

// EstimateTokenCount returns a cheap proxy for the history's token size:
// four characters per token, summed over every text-bearing field. Callers
// needing exact accounting should prefer the TokenUsage reported by the
// model stream; this estimate exists so the turn loop can decide to
// compact before the next request without waiting on a round trip.
func (h *History) EstimateTokenCount() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var chars int64
	for _, item := range h.items {
		chars += int64(len(item.TextContent()))
		chars += int64(len(item.Arguments) + len(item.Input) + len(item.CustomOutput))
		if item.Output != nil {
			chars += int64(len(item.Output.Content))
		}
		for _, s := range item.ReasoningSummary {
			chars += int64(len(s))
		}
		for _, s := range item.ReasoningContent {
			chars += int64(len(s))
		}
	}
	return chars / 4
}

// initialContextPrefix returns the leading run of items up to (not
// including) the first user message — the developer/environment framing
// every compaction must preserve (spec.md §4.1, §8 invariant 5).
func initialContextPrefix(items []protocol.ResponseItem) []protocol.ResponseItem {
	for i, item := range items {
		if item.Kind == protocol.ItemMessage && item.Role == "user" {
			return items[:i]
		}
	}
	return items
}

// userMessages returns every user Message item in items, in order.
func userMessages(items []protocol.ResponseItem) []protocol.ResponseItem {
	var out []protocol.ResponseItem
	for _, item := range items {
		if item.Kind == protocol.ItemMessage && item.Role == "user" {
			out = append(out, item)
		}
	}
	return out
}

// ApplyCompaction replaces the live history with the canonical post-compaction
// shape: initial_context ++ all_prior_user_messages ++ user_message(summary).
// Computed from the current live snapshot per spec.md §4.1: "compute the
// current live snapshot, collect the user messages from it, rebuild history
// as [initial_context, user_messages..., summary_message], and replace."
func (h *History) ApplyCompaction(summary string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rebuilt := rebuildCompacted(h.items, summary)
	h.items = rebuilt
}

// rebuildCompacted is the pure function backing both ApplyCompaction and
// rollout resume reconstruction, so the two paths cannot drift.
func rebuildCompacted(live []protocol.ResponseItem, summary string) []protocol.ResponseItem {
	prefix := initialContextPrefix(live)
	users := userMessages(live)
	rebuilt := make([]protocol.ResponseItem, 0, len(prefix)+len(users)+1)
	rebuilt = append(rebuilt, prefix...)
	rebuilt = append(rebuilt, users...)
	rebuilt = append(rebuilt, protocol.NewUserMessage(summary))
	return rebuilt
}

// Len reports the current item count.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
