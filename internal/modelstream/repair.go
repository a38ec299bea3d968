package modelstream

import "github.com/codexturn/codexturn/pkg/protocol"

// RepairMissingOutputs scans items for FunctionCall/CustomToolCall/
// LocalShellCall entries with no matching *Output by call_id and appends a
// synthetic "aborted" output for each, in the order their calls appeared
// (spec.md §4.7: "missing tool outputs ... synthesised ... and prepended
// to the next prompt"). Call this when assembling the next turn's input
// from a prior turn's items — a model reconnecting mid-turn can otherwise
// leave call_ids dangling, which would violate the ConversationHistory
// invariant that every call is eventually followed by its output.
//
// Grounded on internal/agent/transcript_repair.go's pending-call-id
// bookkeeping, generalized from that function's assistant/tool message
// pairing to ResponseItem's call/*Output pairing.
func RepairMissingOutputs(items []protocol.ResponseItem) []protocol.ResponseItem {
	if len(items) == 0 {
		return items
	}

	pending := make(map[string]protocol.ResponseItemKind)
	order := make([]string, 0)

	for _, item := range items {
		if item.IsToolCall() {
			if _, seen := pending[item.CallID]; !seen {
				order = append(order, item.CallID)
			}
			pending[item.CallID] = item.Kind
		} else if item.IsToolOutput() {
			delete(pending, item.OutputCallID())
		}
	}

	if len(pending) == 0 {
		return items
	}

	repaired := make([]protocol.ResponseItem, len(items), len(items)+len(pending))
	copy(repaired, items)
	for _, callID := range order {
		kind, stillPending := pending[callID]
		if !stillPending {
			continue
		}
		switch kind {
		case protocol.ItemCustomToolCall:
			repaired = append(repaired, protocol.AbortedCustomToolCallOutput(callID))
		default:
			repaired = append(repaired, protocol.AbortedFunctionCallOutput(callID))
		}
	}
	return repaired
}
