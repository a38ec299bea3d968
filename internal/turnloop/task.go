package turnloop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codexturn/codexturn/internal/approval"
	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/internal/turnctx"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// Task is one submitted turn's worth of state: the (possibly
// multi-round-trip) loop described by spec.md §4.8, plus the cancellation
// and pending-input handling spec.md §5 requires.
//
// A Task is created by the Session (C9) for each UserInput/
// UserTurn/Review submission and run on its own goroutine via Run. Session
// retains the *Task so it can call InjectInput (steering / additional user
// turns arriving mid-run) or Abort (Interrupt, or a new task replacing this
// one) from its own goroutine.
type Task struct {
	deps Deps
	gate *approval.Gate

	tc   protocol.TurnContext
	emit EmitFunc

	reviewMode bool
	// shared is the session's persistent history; convo is what this Task
	// actually reads/appends to each round trip: shared directly in the
	// normal case, or a fresh isolated History seeded with the review
	// request in review mode (spec.md §4.11: "isolated in-memory history").
	shared *turnctx.History
	convo  *turnctx.History

	sessionApproved map[string]bool

	mu      sync.Mutex
	pending []protocol.ResponseItem
	aborted bool
	cancel  context.CancelFunc

	done chan struct{}
}

// NewTask builds a Task for one submission. input is the newly submitted
// user message(s) (plus any EnvironmentContext item the caller prepends);
// it is recorded into history before Run starts, per spec.md §4.8's "record
// user input (not in review mode); else seed review history".
func NewTask(deps Deps, gate *approval.Gate, tc protocol.TurnContext, shared *turnctx.History, sessionApproved map[string]bool, emit EmitFunc, input []protocol.ResponseItem, reviewMode bool) *Task {
	t := &Task{
		deps:            deps,
		gate:            gate,
		tc:              tc,
		emit:            emit,
		reviewMode:      reviewMode,
		shared:          shared,
		sessionApproved: sessionApproved,
		done:            make(chan struct{}),
	}

	if reviewMode {
		t.convo = turnctx.New()
		t.convo.RecordItems(input)
	} else {
		t.convo = shared
		shared.RecordItems(input)
		t.recordRollout(input)
	}
	return t
}

// Wait blocks until Run has returned.
func (t *Task) Wait() { <-t.done }

// InjectInput queues additional input for the next round trip (spec.md
// §4.8's pending_input / steering). Safe to call from any goroutine,
// including concurrently with Run. A no-op once the task has been aborted.
func (t *Task) InjectInput(items []protocol.ResponseItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.aborted {
		return
	}
	t.pending = append(t.pending, items...)
}

func (t *Task) drainPending() []protocol.ResponseItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pending
	t.pending = nil
	return p
}

func (t *Task) isAborted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aborted
}

// Abort interrupts the task (spec.md §5): it cancels the in-flight model
// stream, drains pending approval waiters to their default Denied decision,
// clears pending input, and emits TurnAborted (ExitedReviewMode first, for
// a review task). Safe to call from any goroutine, including before Run has
// started or after it has already finished; a second call is a no-op.
func (t *Task) Abort(reason protocol.TurnAbortReason) {
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		return
	}
	t.aborted = true
	t.pending = nil
	cancel := t.cancel
	t.mu.Unlock()

	if t.gate != nil {
		t.gate.Abort()
	}
	if cancel != nil {
		cancel()
	}
	if t.deps.Dispatcher != nil {
		t.deps.Dispatcher.ResetDiffTracker(t.tc.SubID)
	}

	if t.reviewMode {
		t.emitNow(protocol.Event{Kind: protocol.EventExitedReviewMode})
	}
	t.emitNow(protocol.Event{Kind: protocol.EventTurnAborted, AbortReason: reason})
}

// Run drives the loop to completion: repeated model round trips, recording
// new items, dispatching tool calls, auto-compacting when the context grows
// too large, and — for review tasks — parsing the final message as a
// ReviewOutputEvent. It returns once TaskComplete (or an aborted/erroring
// exit) has been emitted. Callers run this on its own goroutine.
func (t *Task) Run(ctx context.Context) {
	defer close(t.done)

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	t.emitNow(protocol.Event{Kind: protocol.EventTaskStarted})

	autoCompactRecently := false
	var lastMessage *string

	for {
		if runCtx.Err() != nil || t.isAborted() {
			return
		}

		pending := t.drainPending()
		if len(pending) > 0 {
			t.convo.RecordItems(pending)
			if !t.reviewMode {
				t.recordRollout(pending)
			}
		}

		turnInput := modelstream.RepairMissingOutputs(t.convo.Contents())
		prompt := modelstream.Prompt{
			Input:                    turnInput,
			Tools:                    filterTools(t.deps.Registry, t.tc.Tools),
			BaseInstructionsOverride: t.instructions(),
			ReviewMode:               t.reviewMode,
		}

		result, err := t.runTurnWithRetry(runCtx, prompt)
		if err != nil {
			if runCtx.Err() != nil || t.isAborted() {
				return
			}
			t.emitNow(protocol.Event{Kind: protocol.EventError, Message: err.Error()})
			return
		}

		recorded := result.Items
		if result.Text != "" {
			recorded = append(recorded, protocol.NewAssistantMessage(result.Text))
			text := result.Text
			lastMessage = &text
			if !t.reviewMode {
				t.emitNow(protocol.Event{Kind: protocol.EventAgentMessage, Text: result.Text})
			}
		}

		t.convo.RecordItems(recorded)
		if !t.reviewMode {
			t.recordRollout(recorded)
		}
		for _, ev := range result.Events {
			t.emitNow(ev)
		}

		if t.deps.AutoCompactTokenLimit > 0 && t.convo.EstimateTokenCount() >= t.deps.AutoCompactTokenLimit {
			if autoCompactRecently {
				t.emitNow(protocol.Event{Kind: protocol.EventError, Message: "conversation still over the context limit after auto-compaction"})
				return
			}
			autoCompactRecently = true
			if err := t.runInlineAutoCompact(runCtx); err != nil {
				t.emitNow(protocol.Event{Kind: protocol.EventError, Message: err.Error()})
				return
			}
			continue
		}
		autoCompactRecently = false

		if !anyToolResponse(result.Items) {
			break
		}
	}

	if runCtx.Err() != nil || t.isAborted() {
		return
	}

	if t.deps.Dispatcher != nil {
		t.deps.Dispatcher.ResetDiffTracker(t.tc.SubID)
	}

	if t.reviewMode {
		output := parseReviewOutput(textOf(lastMessage))
		t.emitNow(protocol.Event{Kind: protocol.EventExitedReviewMode, ReviewOutput: output})
		t.recordReviewConcluded(output)
	}

	t.emitNow(protocol.Event{Kind: protocol.EventTaskComplete, LastAgentMessage: lastMessage})
}

func (t *Task) instructions() string {
	if t.reviewMode && t.deps.ReviewBaseInstructions != "" {
		return t.deps.ReviewBaseInstructions
	}
	return t.deps.BaseInstructions
}

func (t *Task) dispatch(ctx context.Context, req toolhub.Request) toolhub.Result {
	return t.deps.Dispatcher.Dispatch(ctx, req)
}

func (t *Task) turnDiff() (string, bool) {
	if t.deps.Dispatcher == nil {
		return "", false
	}
	tracker := t.deps.Dispatcher.DiffTrackerFor(t.tc.SubID)
	if tracker.Empty() {
		return "", false
	}
	return tracker.UnifiedDiff(), true
}

// emitNow stamps an Event's identity fields, hands it to the caller's
// EmitFunc, and durably records it (Kind/SubID filtering is applied by
// rollout.Keep, not here — turnloop doesn't need to know the rules).
func (t *Task) emitNow(ev protocol.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.SubID == "" {
		ev.SubID = t.tc.SubID
	}
	if t.emit != nil {
		t.emit(ev)
	}
	if t.deps.Recorder != nil {
		item := ev
		if err := t.deps.Recorder.RecordItems([]protocol.RolloutItem{{Kind: protocol.RolloutEventMsg, Event: &item}}); err != nil {
			codexlog.For("turnloop").Error().Err(err).Str("sub_id", t.tc.SubID).Msg("failed to record rollout event")
		}
	}
}

func (t *Task) recordRollout(items []protocol.ResponseItem) {
	if t.deps.Recorder == nil || len(items) == 0 {
		return
	}
	wrapped := make([]protocol.RolloutItem, len(items))
	for i, it := range items {
		item := it
		wrapped[i] = protocol.RolloutItem{Kind: protocol.RolloutResponseItem, ResponseItem: &item}
	}
	if err := t.deps.Recorder.RecordItems(wrapped); err != nil {
		codexlog.For("turnloop").Error().Err(err).Str("sub_id", t.tc.SubID).Msg("failed to record rollout items")
	}
}

// recordReviewConcluded appends the synthetic user_message spec.md §4.11
// requires ("a synthetic user_message recording that a review occurred")
// to the *shared* session history, independent of the review's own
// isolated convo.
func (t *Task) recordReviewConcluded(output *protocol.ReviewOutputEvent) {
	note := "Review complete."
	if output != nil && output.OverallExplanation != "" {
		note = "Review complete: " + output.OverallExplanation
	}
	item := protocol.NewUserMessage(note)
	t.shared.RecordItems([]protocol.ResponseItem{item})
	t.recordRollout([]protocol.ResponseItem{item})
}

func anyToolResponse(items []protocol.ResponseItem) bool {
	for _, it := range items {
		if it.IsToolOutput() {
			return true
		}
	}
	return false
}

func textOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
