package protocol

// ReviewDecision is the resolution of an approval request (spec.md §4.4,
// §6). The zero value is intentionally invalid; DefaultDecision is what a
// dropped/aborted approval channel resolves to.
type ReviewDecision string

const (
	DecisionApproved           ReviewDecision = "approved"
	DecisionApprovedForSession ReviewDecision = "approved_for_session"
	DecisionDenied             ReviewDecision = "denied"
	DecisionAbort              ReviewDecision = "abort"
)

// DefaultDecision is delivered to an approval waiter whose channel is
// dropped without an explicit decision (spec.md §6: "Default on dropped
// channel is Denied").
const DefaultDecision = DecisionDenied

// TurnAbortReason distinguishes why a task handle was aborted (spec.md §5).
type TurnAbortReason string

const (
	AbortInterrupted TurnAbortReason = "interrupted"
	AbortReplaced    TurnAbortReason = "replaced"
)
