package submitloop

import (
	"context"
	"testing"
	"time"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/session"
	"github.com/codexturn/codexturn/pkg/protocol"
)

type fakeClient struct {
	name    string
	batches [][]modelstream.StreamEvent
	calls   int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Stream(ctx context.Context, prompt modelstream.Prompt) (<-chan modelstream.StreamEvent, error) {
	idx := f.calls
	if idx >= len(f.batches) {
		idx = len(f.batches) - 1
	}
	f.calls++
	ch := make(chan modelstream.StreamEvent, len(f.batches[idx]))
	for _, ev := range f.batches[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) MaxStreamRetries() int { return 2 }

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	client := &fakeClient{name: "fake", batches: [][]modelstream.StreamEvent{
		{{Kind: modelstream.StreamOutputTextDelta, Delta: "hello there"}, {Kind: modelstream.StreamCompleted}},
	}}
	mh, err := session.OpenMessageHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenMessageHistory: %v", err)
	}
	deps := session.Deps{
		CodexHome:             t.TempDir(),
		Clients:               map[string]modelstream.ModelClient{"fake": client},
		DefaultModelClient:    "fake",
		DefaultApprovalPolicy: protocol.ApprovalOnRequest,
		DefaultSandboxPolicy:  protocol.SandboxPolicy{Mode: protocol.SandboxWorkspaceWrite},
		DefaultModel:          "test-model",
		AutoCompactTokenLimit: 160_000,
		MessageHistory:        mh,
	}
	sess, err := session.New(deps, session.NewConversation())
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return sess
}

func drainEvent(t *testing.T, sess *session.Session) protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := sess.NextEvent(ctx)
	if err != nil {
		t.Fatalf("NextEvent: %v", err)
	}
	return ev
}

func runLoop(t *testing.T, sess *session.Session) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go Run(ctx, sess, Options{})
	return cancel
}

func TestUserInputSpawnsTaskAndCompletes(t *testing.T) {
	sess := newTestSession(t)
	cancel := runLoop(t, sess)
	defer cancel()

	// drain SessionConfigured
	if ev := drainEvent(t, sess); ev.Kind != protocol.EventSessionConfigured {
		t.Fatalf("first event = %v", ev.Kind)
	}

	sess.Submit(protocol.Op{Kind: protocol.OpUserInput, Items: []protocol.InputItem{{Text: "hello"}}})

	deadline := time.Now().Add(3 * time.Second)
	var sawComplete bool
	for time.Now().Before(deadline) {
		ev := drainEvent(t, sess)
		if ev.Kind == protocol.EventTaskComplete {
			sawComplete = true
			break
		}
	}
	if !sawComplete {
		t.Fatal("never observed TaskComplete")
	}
}

func TestAddToHistoryThenGetHistoryEntryRoundTrips(t *testing.T) {
	sess := newTestSession(t)
	cancel := runLoop(t, sess)
	defer cancel()
	drainEvent(t, sess) // SessionConfigured

	sess.Submit(protocol.Op{Kind: protocol.OpAddToHistory, HistoryText: "remember this"})
	logID := sess.MessageHistory().LogID()
	sess.Submit(protocol.Op{Kind: protocol.OpGetHistoryEntry, HistoryLogID: logID, HistoryOffset: 0})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := drainEvent(t, sess)
		if ev.Kind == protocol.EventGetHistoryEntryResponse {
			if ev.HistoryLine != "remember this" {
				t.Fatalf("HistoryLine = %q", ev.HistoryLine)
			}
			return
		}
	}
	t.Fatal("never observed GetHistoryEntryResponse")
}

func TestGetPathEmitsConversationPath(t *testing.T) {
	sess := newTestSession(t)
	cancel := runLoop(t, sess)
	defer cancel()
	drainEvent(t, sess) // SessionConfigured

	sess.Submit(protocol.Op{Kind: protocol.OpGetPath})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := drainEvent(t, sess)
		if ev.Kind == protocol.EventConversationPath {
			if ev.RolloutPath == "" {
				t.Fatal("RolloutPath is empty")
			}
			return
		}
	}
	t.Fatal("never observed ConversationPath")
}

func TestShutdownClosesEventChannel(t *testing.T) {
	sess := newTestSession(t)
	cancel := runLoop(t, sess)
	defer cancel()
	drainEvent(t, sess) // SessionConfigured

	sess.Submit(protocol.Op{Kind: protocol.OpShutdown})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ev := drainEvent(t, sess)
		if ev.Kind == protocol.EventShutdownComplete {
			return
		}
	}
	t.Fatal("never observed ShutdownComplete")
}

func TestOverrideTurnContextRecordsEnvironmentContext(t *testing.T) {
	sess := newTestSession(t)
	cancel := runLoop(t, sess)
	defer cancel()
	drainEvent(t, sess) // SessionConfigured

	newCwd := "/tmp/elsewhere"
	sess.Submit(protocol.Op{Kind: protocol.OpOverrideTurnContext, Overrides: protocol.TurnContextOverrides{Cwd: &newCwd}})

	deadline := time.Now().Add(2 * time.Second)
	updated := false
	for time.Now().Before(deadline) {
		if sess.TurnContext().Cwd == newCwd {
			updated = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !updated {
		t.Fatal("TurnContext cwd never updated")
	}

	found := false
	for _, item := range sess.History().Contents() {
		if item.Kind == protocol.ItemEnvironmentContext && item.Environment != nil && item.Environment.Cwd == newCwd {
			found = true
		}
	}
	if !found {
		t.Error("no EnvironmentContext item recorded for the cwd change")
	}
}
