package turnloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/codexturn/codexturn/internal/approval"
	"github.com/codexturn/codexturn/internal/execrunner"
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/internal/turnctx"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// fakeClient serves a fixed script of StreamEvent batches, one batch per
// call to Stream; the last batch repeats if Stream is called more times
// than there are scripted batches.
type fakeClient struct {
	mu      sync.Mutex
	batches [][]modelstream.StreamEvent
	calls   int

	maxRetries int

	// block, if non-nil, is closed by the test to release a call that
	// should hang until cancellation (used by the abort test).
	block <-chan struct{}
}

func (f *fakeClient) Name() string { return "fake" }

func (f *fakeClient) MaxStreamRetries() int {
	if f.maxRetries > 0 {
		return f.maxRetries
	}
	return 1
}

func (f *fakeClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	f.mu.Lock()
	idx := f.calls
	if idx >= len(f.batches) {
		idx = len(f.batches) - 1
	}
	batch := f.batches[idx]
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		ch := make(chan modelstream.StreamEvent)
		go func() {
			defer close(ch)
			select {
			case <-f.block:
			case <-ctx.Done():
			}
		}()
		return ch, nil
	}

	ch := make(chan modelstream.StreamEvent, len(batch))
	for _, ev := range batch {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func newTestDeps(t *testing.T, client modelstream.ModelClient) (Deps, *approval.Gate) {
	t.Helper()
	registry := toolhub.NewRegistry()
	gate := approval.New()
	dispatcher := toolhub.NewDispatcher(registry, execrunner.New(), gate, toolhub.NewSessionTable(), nil)

	rec, err := rollout.New(t.TempDir(), "", "", nil)
	if err != nil {
		t.Fatalf("rollout.New: %v", err)
	}
	t.Cleanup(func() { rec.Shutdown() })

	return Deps{
		Client:     client,
		Dispatcher: dispatcher,
		Registry:   registry,
		Recorder:   rec,
	}, gate
}

func collectEvents(t *testing.T, deps Deps, gate *approval.Gate, input []protocol.ResponseItem, reviewMode bool) (events []protocol.Event, task *Task) {
	t.Helper()
	var mu sync.Mutex
	var collected []protocol.Event
	emit := func(ev protocol.Event) {
		mu.Lock()
		collected = append(collected, ev)
		mu.Unlock()
	}

	history := turnctx.New()
	tc := protocol.TurnContext{SubID: "sub-1"}
	tsk := NewTask(deps, gate, tc, history, map[string]bool{}, emit, input, reviewMode)

	done := make(chan struct{})
	go func() {
		tsk.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Task.Run did not return in time")
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]protocol.Event, len(collected))
	copy(out, collected)
	return out, tsk
}

func eventKinds(events []protocol.Event) []protocol.EventKind {
	kinds := make([]protocol.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func hasKind(events []protocol.Event, kind protocol.EventKind) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestTaskRunCompletesWithoutToolCalls(t *testing.T) {
	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputTextDelta, Delta: "hello "}, {Kind: modelstream.StreamOutputTextDelta, Delta: "world"}, {Kind: modelstream.StreamCompleted}},
	}}
	deps, gate := newTestDeps(t, client)

	events, _ := collectEvents(t, deps, gate, []protocol.ResponseItem{protocol.NewUserMessage("hi")}, false)

	if !hasKind(events, protocol.EventTaskStarted) {
		t.Errorf("events %v missing TaskStarted", eventKinds(events))
	}
	if !hasKind(events, protocol.EventAgentMessage) {
		t.Errorf("events %v missing AgentMessage", eventKinds(events))
	}
	last := events[len(events)-1]
	if last.Kind != protocol.EventTaskComplete {
		t.Fatalf("last event = %v, want TaskComplete", last.Kind)
	}
	if last.LastAgentMessage == nil || *last.LastAgentMessage != "hello world" {
		t.Errorf("LastAgentMessage = %v, want %q", last.LastAgentMessage, "hello world")
	}
}

func TestTaskRunDispatchesToolCallThenCompletes(t *testing.T) {
	callItem := protocol.ResponseItem{Kind: protocol.ItemFunctionCall, CallID: "c1", Name: "update_plan", Arguments: `{"explanation":"x","plan":[]}`}
	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputItemDone, Item: &callItem}, {Kind: modelstream.StreamCompleted}},
		{{Kind: modelstream.StreamOutputTextDelta, Delta: "done"}, {Kind: modelstream.StreamCompleted}},
	}}
	deps, gate := newTestDeps(t, client)

	tc := protocol.TurnContext{SubID: "sub-1", Tools: protocol.ToolsConfig{UpdatePlan: true}}
	history := turnctx.New()
	var collected []protocol.Event
	var mu sync.Mutex
	emit := func(ev protocol.Event) {
		mu.Lock()
		collected = append(collected, ev)
		mu.Unlock()
	}
	task := NewTask(deps, gate, tc, history, map[string]bool{}, emit, []protocol.ResponseItem{protocol.NewUserMessage("update the plan")}, false)
	task.Run(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if !hasKind(collected, protocol.EventPlanUpdate) {
		t.Errorf("events %v missing PlanUpdate", eventKinds(collected))
	}
	last := collected[len(collected)-1]
	if last.Kind != protocol.EventTaskComplete || last.LastAgentMessage == nil || *last.LastAgentMessage != "done" {
		t.Errorf("last event = %+v, want TaskComplete(done)", last)
	}
}

func TestTaskAbortStopsRunAndEmitsTurnAborted(t *testing.T) {
	block := make(chan struct{})
	client := &fakeClient{block: block}
	deps, gate := newTestDeps(t, client)

	var mu sync.Mutex
	var collected []protocol.Event
	emit := func(ev protocol.Event) {
		mu.Lock()
		collected = append(collected, ev)
		mu.Unlock()
	}

	history := turnctx.New()
	tc := protocol.TurnContext{SubID: "sub-1"}
	task := NewTask(deps, gate, tc, history, map[string]bool{}, emit, []protocol.ResponseItem{protocol.NewUserMessage("hi")}, false)

	done := make(chan struct{})
	go func() {
		task.Run(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	task.Abort(protocol.AbortInterrupted)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Abort")
	}

	mu.Lock()
	defer mu.Unlock()
	if !hasKind(collected, protocol.EventTurnAborted) {
		t.Errorf("events %v missing TurnAborted", eventKinds(collected))
	}
	if hasKind(collected, protocol.EventTaskComplete) {
		t.Errorf("events %v should not include TaskComplete after abort", eventKinds(collected))
	}
}

func TestTaskReviewModeParsesOutputAndExitsReviewMode(t *testing.T) {
	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputTextDelta, Delta: `{"findings":[],"overall_correctness":"patch is correct","overall_explanation":"looks good"}`}, {Kind: modelstream.StreamCompleted}},
	}}
	deps, gate := newTestDeps(t, client)

	events, _ := collectEvents(t, deps, gate, []protocol.ResponseItem{protocol.NewUserMessage("review this diff")}, true)

	if hasKind(events, protocol.EventAgentMessage) {
		t.Errorf("review mode should suppress AgentMessage, got %v", eventKinds(events))
	}
	var found *protocol.Event
	for i := range events {
		if events[i].Kind == protocol.EventExitedReviewMode {
			found = &events[i]
		}
	}
	if found == nil {
		t.Fatalf("events %v missing ExitedReviewMode", eventKinds(events))
	}
	if found.ReviewOutput == nil || found.ReviewOutput.OverallCorrectness != "patch is correct" {
		t.Errorf("ReviewOutput = %+v, want overall_correctness=patch is correct", found.ReviewOutput)
	}
}

func TestTaskRetriesRetryableStreamErrorThenSucceeds(t *testing.T) {
	failing := &sequencedClient{
		attempts: []func() ([]modelstream.StreamEvent, error){
			func() ([]modelstream.StreamEvent, error) {
				return nil, modelstream.NewStreamError("fake", "m1", errTimeout{})
			},
			func() ([]modelstream.StreamEvent, error) {
				return []modelstream.StreamEvent{{Kind: modelstream.StreamOutputTextDelta, Delta: "ok"}, {Kind: modelstream.StreamCompleted}}, nil
			},
		},
	}
	deps, gate := newTestDeps(t, failing)
	events, _ := collectEvents(t, deps, gate, []protocol.ResponseItem{protocol.NewUserMessage("hi")}, false)

	if !hasKind(events, protocol.EventStreamError) {
		t.Errorf("events %v missing StreamError from the failed first attempt", eventKinds(events))
	}
	last := events[len(events)-1]
	if last.Kind != protocol.EventTaskComplete || last.LastAgentMessage == nil || *last.LastAgentMessage != "ok" {
		t.Errorf("last event = %+v, want TaskComplete(ok)", last)
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "request timeout" }

// sequencedClient calls a different function for each successive Stream
// call, used to script a failure followed by a success.
type sequencedClient struct {
	mu       sync.Mutex
	calls    int
	attempts []func() ([]modelstream.StreamEvent, error)
}

func (s *sequencedClient) Name() string          { return "sequenced" }
func (s *sequencedClient) MaxStreamRetries() int { return 2 }

func (s *sequencedClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.attempts) {
		idx = len(s.attempts) - 1
	}
	s.calls++
	s.mu.Unlock()

	events, err := s.attempts[idx]()
	if err != nil {
		return nil, err
	}
	ch := make(chan modelstream.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func TestTaskAutoCompactGivesUpAfterOneRetry(t *testing.T) {
	client := &fakeClient{batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputTextDelta, Delta: "some fairly long assistant reply that uses up tokens"}, {Kind: modelstream.StreamCompleted}},
	}}
	deps, gate := newTestDeps(t, client)
	deps.AutoCompactTokenLimit = 1

	events, _ := collectEvents(t, deps, gate, []protocol.ResponseItem{protocol.NewUserMessage("hi")}, false)

	if hasKind(events, protocol.EventTaskComplete) {
		t.Errorf("events %v should not reach TaskComplete when still over the compaction limit", eventKinds(events))
	}
	if !hasKind(events, protocol.EventError) {
		t.Errorf("events %v missing the still-over-limit Error", eventKinds(events))
	}
}
