// Package approval implements the Approval Gate (spec.md §4.4): one-shot
// decision channels keyed by sub-id that let the Turn Loop block on a
// user's exec/patch approval without coupling it to any particular
// transport.
package approval

import (
	"context"
	"sync"

	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// Gate holds the pending approval channels for one session. Safe for
// concurrent use: requests are inserted by the turn loop goroutine while
// decisions arrive from the submission loop handling an ExecApproval or
// PatchApproval op.
type Gate struct {
	mu      sync.Mutex
	pending map[string]chan protocol.ReviewDecision
}

// New returns an empty Gate.
func New() *Gate {
	return &Gate{pending: map[string]chan protocol.ReviewDecision{}}
}

// RequestCommandApproval inserts a pending channel for subID and returns
// that channel, which the caller receives from for the eventual Decision. Overwriting an
// existing entry for the same sub-id logs a warning and replaces it — the
// prior waiter is left blocked until Abort drains it (spec.md §4.4).
func (g *Gate) RequestCommandApproval(ctx context.Context, subID string) <-chan protocol.ReviewDecision {
	return g.insert(subID)
}

// RequestPatchApproval follows the same one-shot-channel pattern as
// RequestCommandApproval; it exists as a distinct method because the
// caller emits a different begin event (ApplyPatchApprovalRequest rather
// than ExecApprovalRequest) before awaiting the channel.
func (g *Gate) RequestPatchApproval(ctx context.Context, subID string) <-chan protocol.ReviewDecision {
	return g.insert(subID)
}

func (g *Gate) insert(subID string) <-chan protocol.ReviewDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[subID]; exists {
		codexlog.For("approval").Warn().Str("sub_id", subID).Msg("overwriting pending approval request for sub-id")
	}
	ch := make(chan protocol.ReviewDecision, 1)
	g.pending[subID] = ch
	return ch
}

// NotifyApproval resolves the pending channel for subID with decision.
// Logs a warning and is a no-op if no channel is pending — the waiter may
// already have been dropped by Abort, or the submission arrived for a
// sub-id that was never registered. A DecisionAbort is never delivered to
// the waiter directly (spec.md §4.4: "Abort triggers full task
// interruption rather than being delivered to the waiter"); it instead
// drains every pending channel in this Gate via Abort, so the caller's
// task-interruption path is responsible for calling Abort and must not
// also forward DecisionAbort as a normal decision.
func (g *Gate) NotifyApproval(subID string, decision protocol.ReviewDecision) {
	if decision == protocol.DecisionAbort {
		g.Abort()
		return
	}

	g.mu.Lock()
	ch, ok := g.pending[subID]
	if ok {
		delete(g.pending, subID)
	}
	g.mu.Unlock()

	if !ok {
		codexlog.For("approval").Warn().Str("sub_id", subID).Msg("notify_approval for unknown or already-resolved sub-id")
		return
	}
	ch <- decision
	close(ch)
}

// Abort drains every pending channel, delivering protocol.DefaultDecision
// (Denied) to each waiter (spec.md §4.4: "Aborting a task drains and drops
// all pending-approval channels (waiters see the default Denied)").
func (g *Gate) Abort() {
	g.mu.Lock()
	pending := g.pending
	g.pending = map[string]chan protocol.ReviewDecision{}
	g.mu.Unlock()

	for subID, ch := range pending {
		codexlog.For("approval").Info().Str("sub_id", subID).Msg("aborting pending approval, resolving to default decision")
		ch <- protocol.DefaultDecision
		close(ch)
	}
}

// Pending reports the number of outstanding approval requests, for tests
// and diagnostics.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
