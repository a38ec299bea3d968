package rollout

import "github.com/codexturn/codexturn/pkg/protocol"

// Keep reports whether item must be durably recorded (spec.md §4.2: writes
// are filtered; SessionConfigured, UserMessage, Compacted, TurnContext, and
// every ResponseItem must be recorded; background events, stream-error
// notifications, and content-free approval-request events may be dropped).
func Keep(item protocol.RolloutItem) bool {
	switch item.Kind {
	case protocol.RolloutResponseItem, protocol.RolloutCompacted, protocol.RolloutTurnContext:
		return true
	case protocol.RolloutEventMsg:
		return keepEvent(item.Event)
	default:
		// Unknown kinds are passed through so a future writer's records
		// survive being re-forked by an older reader.
		return true
	}
}

func keepEvent(e *protocol.Event) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case protocol.EventBackgroundEvent, protocol.EventStreamError:
		return false
	case protocol.EventExecApprovalRequest, protocol.EventApplyPatchApprovalRequest:
		// Approval requests carry no semantic transcript content of their
		// own; the eventual decision and exec/patch begin/end events are
		// what matters for replay.
		return false
	case protocol.EventSessionConfigured:
		return true
	default:
		return true
	}
}
