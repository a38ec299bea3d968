package approval

import (
	"context"
	"testing"
	"time"

	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestRequestThenNotifyResolves(t *testing.T) {
	g := New()
	ch := g.RequestCommandApproval(context.Background(), "sub-1")

	g.NotifyApproval("sub-1", protocol.DecisionApproved)

	select {
	case d := <-ch:
		if d != protocol.DecisionApproved {
			t.Fatalf("got %v, want Approved", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision")
	}
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after resolution", g.Pending())
	}
}

func TestNotifyUnknownSubIDIsNoop(t *testing.T) {
	g := New()
	g.NotifyApproval("nonexistent", protocol.DecisionDenied) // must not panic
}

func TestOverwritingPendingEntryReplacesIt(t *testing.T) {
	g := New()
	first := g.RequestCommandApproval(context.Background(), "sub-1")
	second := g.RequestCommandApproval(context.Background(), "sub-1")

	g.NotifyApproval("sub-1", protocol.DecisionApproved)

	select {
	case <-first:
		t.Fatal("first channel should never be resolved; it was replaced")
	default:
	}
	select {
	case d := <-second:
		if d != protocol.DecisionApproved {
			t.Fatalf("got %v, want Approved", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decision on replacement channel")
	}
}

func TestAbortResolvesAllPendingToDefaultDenied(t *testing.T) {
	g := New()
	ch1 := g.RequestCommandApproval(context.Background(), "sub-1")
	ch2 := g.RequestPatchApproval(context.Background(), "sub-2")

	g.Abort()

	for _, ch := range []<-chan protocol.ReviewDecision{ch1, ch2} {
		select {
		case d := <-ch:
			if d != protocol.DefaultDecision {
				t.Fatalf("got %v, want DefaultDecision (Denied)", d)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for aborted decision")
		}
	}
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after Abort", g.Pending())
	}
}

func TestNotifyWithAbortDecisionDrainsInsteadOfDelivering(t *testing.T) {
	g := New()
	chSelf := g.RequestCommandApproval(context.Background(), "sub-1")
	chOther := g.RequestCommandApproval(context.Background(), "sub-2")

	g.NotifyApproval("sub-1", protocol.DecisionAbort)

	for _, ch := range []<-chan protocol.ReviewDecision{chSelf, chOther} {
		select {
		case d := <-ch:
			if d != protocol.DefaultDecision {
				t.Fatalf("got %v, want DefaultDecision (Denied) via Abort drain", d)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for drained decision")
		}
	}
}
