package turnctx

import "github.com/codexturn/codexturn/pkg/protocol"

// Reconstruct replays a rollout's RolloutItems into a fresh History,
// following spec.md §4.1's reconstruction rule: append every ResponseItem
// in order, and on every Compacted record rebuild the history from the
// live snapshot at that point rather than simply appending the summary.
// The result is bit-identical to the in-memory history a live session
// would have had at the same point in its rollout (spec.md §8 invariant 4).
func Reconstruct(items []protocol.RolloutItem) *History {
	h := New()
	for _, ri := range items {
		switch ri.Kind {
		case protocol.RolloutResponseItem:
			if ri.ResponseItem != nil {
				h.items = append(h.items, *ri.ResponseItem)
			}
		case protocol.RolloutCompacted:
			if ri.Compacted != nil {
				h.items = rebuildCompacted(h.items, ri.Compacted.Summary)
			}
		default:
			// event_msg and turn_context records carry no history content.
		}
	}
	return h
}
