// Package session implements the Session (spec.md §4.9): the long-lived
// value holding one conversation's mutable state and the services every
// Task it spawns shares — history, rollout recorder, approval gate, tool
// dispatcher, and the outbound event channel.
//
// Session owns the primitive operations spec.md §4.9 lists
// (send_event, interrupt_task, set_task, remove_task, inject_input,
// call_tool, request_command_approval, request_patch_approval,
// notify_approval) plus Submit/NextEvent. The Submission Loop (C10,
// internal/submitloop) consumes Session.Submissions() and drives these
// methods; splitting the two avoids an import cycle (submitloop already
// needs to reference Session) and mirrors the teacher's own separation of
// Runtime (state) from the goroutine that pumps its work queue
// (internal/agent/runtime.go's run/Process split).
package session

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/codexturn/codexturn/internal/approval"
	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/execrunner"
	"github.com/codexturn/codexturn/internal/metrics"
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/internal/turnctx"
	"github.com/codexturn/codexturn/internal/turnloop"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// eventBufferSize bounds the outbound event channel; NextEvent callers that
// fall behind block the emitting Task rather than growing memory
// unboundedly, matching the teacher's bounded ResponseChunk channel
// (internal/agent/runtime.go's Process).
const eventBufferSize = 256

// Deps are the services a Session needs to construct its Task wiring.
// Clients is keyed by ModelClient.Name(); DefaultModelClient selects the
// entry used for the first persistent TurnContext.
type Deps struct {
	CodexHome string

	Clients            map[string]modelstream.ModelClient
	DefaultModelClient string

	Registry *toolhub.Registry
	MCP      toolhub.MCPCaller // nil disables MCP tool dispatch
	Archiver rollout.Archiver  // nil disables S3 rollout archival

	DefaultApprovalPolicy protocol.ApprovalPolicy
	DefaultSandboxPolicy  protocol.SandboxPolicy
	DefaultModel          string
	DefaultTools          protocol.ToolsConfig
	AutoCompactTokenLimit int64

	BaseInstructions       string
	ReviewBaseInstructions string

	MessageHistory *MessageHistory // nil disables AddToHistory/GetHistoryEntry
}

// Session holds one conversation's mutable state (spec.md §4.9).
type Session struct {
	id       protocol.ConversationId
	recorder *rollout.Recorder
	history  *turnctx.History
	shell    string

	gate       *approval.Gate
	dispatcher *toolhub.Dispatcher
	registry   *toolhub.Registry

	clients     map[string]modelstream.ModelClient
	baseDeps    turnloop.Deps
	msgHistory  *MessageHistory

	mu              sync.Mutex
	tc              protocol.TurnContext
	sessionApproved map[string]bool
	current         *turnloop.Task

	submissions chan protocol.Submission
	events      chan protocol.Event
}

// New constructs a Session per spec.md §4.9's construction sequence: opens
// or reopens the rollout recorder according to initial.Kind, discovers the
// shell, replays prior history (resumed/forked) into the Context Manager,
// builds the first persistent TurnContext, and emits SessionConfigured.
// It does not itself spawn the Submission Loop (see the package doc);
// the caller must start one (internal/submitloop.Run) against the
// returned Session.
func New(deps Deps, initial InitialHistory) (*Session, error) {
	rec, items, err := initial.open(deps.CodexHome, deps.Archiver)
	if err != nil {
		return nil, fmt.Errorf("session: open rollout: %w", err)
	}

	history := turnctx.Reconstruct(items)
	shell := discoverShell()

	registry := deps.Registry
	if registry == nil {
		registry = toolhub.NewRegistry()
	}
	gate := approval.New()
	dispatcher := toolhub.NewDispatcher(registry, execrunner.New(), gate, toolhub.NewSessionTable(), deps.MCP)

	tc := protocol.TurnContext{
		Cwd:             cwdOrDot(),
		ApprovalPolicy:  deps.DefaultApprovalPolicy,
		SandboxPolicy:   deps.DefaultSandboxPolicy,
		Model:           deps.DefaultModel,
		Tools:           deps.DefaultTools,
		ModelClientName: deps.DefaultModelClient,
	}

	s := &Session{
		id:         rec.ConversationID(),
		recorder:   rec,
		history:    history,
		shell:      shell,
		gate:       gate,
		dispatcher: dispatcher,
		registry:   registry,
		clients:    deps.Clients,
		msgHistory: deps.MessageHistory,
		baseDeps: turnloop.Deps{
			Dispatcher:             dispatcher,
			Registry:               registry,
			Recorder:               rec,
			BaseInstructions:       deps.BaseInstructions,
			ReviewBaseInstructions: deps.ReviewBaseInstructions,
			AutoCompactTokenLimit:  deps.AutoCompactTokenLimit,
		},
		tc:              tc,
		sessionApproved: map[string]bool{},
		submissions:     make(chan protocol.Submission, eventBufferSize),
		events:          make(chan protocol.Event, eventBufferSize),
	}

	var logID, entryCount int64
	if s.msgHistory != nil {
		logID = s.msgHistory.LogID()
		entryCount = s.msgHistory.EntryCount()
	}

	var initialMessages []string
	for _, it := range items {
		if it.Kind == protocol.RolloutResponseItem && it.ResponseItem != nil && it.ResponseItem.Kind == protocol.ItemMessage {
			initialMessages = append(initialMessages, it.ResponseItem.TextContent())
		}
	}

	s.SendEvent(protocol.Event{
		Kind:              protocol.EventSessionConfigured,
		SessionID:         string(s.id),
		Model:             tc.Model,
		ReasoningEffort:   tc.ReasoningEffort,
		HistoryLogID:      logID,
		HistoryEntryCount: entryCount,
		InitialMessages:   initialMessages,
		RolloutPath:       rec.Path(),
	})

	metrics.SessionOpened()

	return s, nil
}

func cwdOrDot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// discoverShell resolves the user's default shell, falling back to
// /bin/bash when $SHELL is unset (e.g. a non-interactive CI invocation).
func discoverShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// ID returns the conversation id backing this session.
func (s *Session) ID() protocol.ConversationId { return s.id }

// RolloutPath returns the path of the open rollout file (GetPath op).
func (s *Session) RolloutPath() string { return s.recorder.Path() }

// Shell returns the discovered default shell, used by
// TurnContext.EnvironmentContextFor when recording EnvironmentContext.
func (s *Session) Shell() string { return s.shell }

// Registry exposes the tool registry so the Submission Loop can answer
// ListMcpTools.
func (s *Session) Registry() *toolhub.Registry { return s.registry }

// MessageHistory exposes the global message-history file, or nil.
func (s *Session) MessageHistory() *MessageHistory { return s.msgHistory }

// Submissions returns the channel the Submission Loop ranges over.
func (s *Session) Submissions() <-chan protocol.Submission { return s.submissions }

// Submit enqueues op and returns its generated submission id (spec.md
// §4.9's submit(op) -> submission_id).
func (s *Session) Submit(op protocol.Op) string {
	id := uuid.NewString()
	s.submissions <- protocol.Submission{ID: id, Op: op}
	return id
}

// NextEvent blocks until an event is available or ctx is done (spec.md
// §4.9's next_event() -> Event).
func (s *Session) NextEvent(ctx context.Context) (protocol.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return protocol.Event{}, fmt.Errorf("session: event channel closed")
		}
		return ev, nil
	case <-ctx.Done():
		return protocol.Event{}, ctx.Err()
	}
}

// SendEvent delivers ev to NextEvent's consumer. Used directly by Session
// itself (SessionConfigured, ShutdownComplete, history/tool-list
// responses) as well as by Tasks via the EmitFunc passed to turnloop.
func (s *Session) SendEvent(ev protocol.Event) {
	s.events <- ev
}

// CloseEvents closes the event channel once no more events will be sent
// (after ShutdownComplete), letting NextEvent callers observe completion.
func (s *Session) CloseEvents() {
	close(s.events)
}

// TurnContext returns the current persistent TurnContext.
func (s *Session) TurnContext() protocol.TurnContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tc
}

// SetTurnContext installs a new persistent TurnContext (OverrideTurnContext
// / UserTurn handling, spec.md §4.10).
func (s *Session) SetTurnContext(tc protocol.TurnContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tc = tc
}

// History exposes the shared Context Manager so the Submission Loop can
// record EnvironmentContext / AddToHistory items directly.
func (s *Session) History() *turnctx.History { return s.history }

// Recorder exposes the rollout recorder for direct writes (EnvironmentContext)
// and for GetPath/Shutdown handling.
func (s *Session) Recorder() *rollout.Recorder { return s.recorder }

// HasCurrentTask reports whether a task is currently running.
func (s *Session) HasCurrentTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// InterruptTask aborts the running task, if any (spec.md §4.9's
// interrupt_task, §5's idempotent Interrupt).
func (s *Session) InterruptTask() {
	s.mu.Lock()
	task := s.current
	s.mu.Unlock()
	if task != nil {
		task.Abort(protocol.AbortInterrupted)
	}
}

// SetTask aborts any currently running task with Replaced (spec.md §5:
// "spawning a new task aborts the old with Replaced") and installs next as
// the current task, then starts it on its own goroutine.
func (s *Session) SetTask(ctx context.Context, next *turnloop.Task) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()

	if prev != nil {
		prev.Abort(protocol.AbortReplaced)
	}

	go func() {
		next.Run(ctx)
		s.removeTask(next)
	}()
}

// removeTask clears s.current once it matches done, leaving a
// newer-replaced task installed by a racing SetTask untouched (spec.md
// §4.8's "remove current task" pseudocode step).
func (s *Session) removeTask(done *turnloop.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == done {
		s.current = nil
	}
}

// InjectInput queues items on the current task (steering) or, if none is
// running, returns false so the caller spawns a new task instead (spec.md
// §4.10's UserInput handling).
func (s *Session) InjectInput(items []protocol.ResponseItem) bool {
	s.mu.Lock()
	task := s.current
	s.mu.Unlock()
	if task == nil {
		return false
	}
	task.InjectInput(items)
	return true
}

// AddApprovedCommand records key in the session-approved map Session owns.
// toolhub.Dispatcher writes the same map in place (via
// sandboxsafety.RememberApproved), so the Submission Loop never needs to
// call this directly (see
// DESIGN.md's Open Question decision on escalated-permission persistence).
func (s *Session) AddApprovedCommand(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionApproved[key] = true
}

// RequestCommandApproval / RequestPatchApproval / NotifyApproval forward to
// the session's Approval Gate (spec.md §4.9, §4.4).
func (s *Session) RequestCommandApproval(ctx context.Context, subID string) <-chan protocol.ReviewDecision {
	return s.gate.RequestCommandApproval(ctx, subID)
}

func (s *Session) RequestPatchApproval(ctx context.Context, subID string) <-chan protocol.ReviewDecision {
	return s.gate.RequestPatchApproval(ctx, subID)
}

func (s *Session) NotifyApproval(subID string, decision protocol.ReviewDecision) {
	s.gate.NotifyApproval(subID, decision)
}

// CallTool routes a direct tool invocation through the Tool Dispatcher
// (spec.md §4.9's call_tool, used by custom-prompt / slash-command style
// callers outside a running Task's model stream).
func (s *Session) CallTool(ctx context.Context, req toolhub.Request) toolhub.Result {
	if req.SessionApproved == nil {
		s.mu.Lock()
		req.SessionApproved = s.sessionApproved
		s.mu.Unlock()
	}
	return s.dispatcher.Dispatch(ctx, req)
}

// NewTask builds a turnloop.Task against this Session's shared wiring for
// the given TurnContext, input, and mode, picking the ModelClient named by
// tc.ModelClientName. Returns an error if no such client is registered.
func (s *Session) NewTask(tc protocol.TurnContext, input []protocol.ResponseItem, reviewMode bool) (*turnloop.Task, error) {
	client, ok := s.clients[tc.ModelClientName]
	if !ok {
		return nil, fmt.Errorf("session: no model client registered for %q", tc.ModelClientName)
	}

	deps := s.baseDeps
	deps.Client = client

	s.mu.Lock()
	approved := s.sessionApproved
	s.mu.Unlock()

	task := turnloop.NewTask(deps, s.gate, tc, s.history, approved, s.SendEvent, input, reviewMode)
	codexlog.For("session").Debug().Str("sub_id", tc.SubID).Bool("review_mode", reviewMode).Msg("spawned task")
	return task, nil
}

// ModelClientFor looks up a registered ModelClient by name, the same lookup
// NewTask performs, exposed so the Submission Loop's Compact op can stream a
// summarization call without spawning a Task.
func (s *Session) ModelClientFor(name string) (modelstream.ModelClient, error) {
	client, ok := s.clients[name]
	if !ok {
		return nil, fmt.Errorf("session: no model client registered for %q", name)
	}
	return client, nil
}

// Shutdown flushes and closes the rollout recorder (Shutdown op, spec.md
// §4.10).
func (s *Session) Shutdown() error {
	metrics.SessionClosed()
	return s.recorder.Shutdown()
}
