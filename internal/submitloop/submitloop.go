// Package submitloop implements the Submission Loop (spec.md §4.10): the
// single goroutine that ranges over a Session's submission queue and
// dispatches each Op to the Session's primitive operations. Splitting this
// out of internal/session keeps Session a plain state holder and lets this
// package import it without a cycle (see internal/session's package doc).
package submitloop

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/metrics"
	"github.com/codexturn/codexturn/internal/session"
	"github.com/codexturn/codexturn/internal/turnloop"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// Options configure Run beyond what's reachable from the Session itself.
type Options struct {
	// CompactionCron schedules a periodic idle-session compaction check
	// (SPEC_FULL.md's domain-stack entry for this package), separate from
	// the Turn Loop's own inline reactive auto-compaction. Empty disables
	// the scheduled check.
	CompactionCron string
	// CompactionTokenLimit is the threshold a scheduled check compares the
	// session's current history size against before compacting.
	CompactionTokenLimit int64
}

// Run drains sess.Submissions() until ctx is cancelled or a Shutdown op is
// processed, dispatching each Op per spec.md §4.10's table. It blocks; the
// caller runs it on its own goroutine.
func Run(ctx context.Context, sess *session.Session, opts Options) error {
	log := codexlog.For("submitloop")

	sched, err := startCompactionSchedule(ctx, sess, opts)
	if err != nil {
		return fmt.Errorf("submitloop: start compaction schedule: %w", err)
	}
	if sched != nil {
		defer sched.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-sess.Submissions():
			if !ok {
				return nil
			}
			log.Debug().Str("id", sub.ID).Str("kind", string(sub.Op.Kind)).Msg("dispatching submission")
			if shutdown := dispatch(ctx, sess, sub); shutdown {
				return nil
			}
		}
	}
}

// dispatch handles one submission and reports whether it was a Shutdown
// that should end Run's loop.
func dispatch(ctx context.Context, sess *session.Session, sub protocol.Submission) (shutdown bool) {
	op := sub.Op
	switch op.Kind {
	case protocol.OpUserInput:
		handleUserInput(ctx, sess, op)

	case protocol.OpUserTurn:
		handleUserTurn(ctx, sess, op)

	case protocol.OpOverrideTurnContext:
		handleOverrideTurnContext(sess, op)

	case protocol.OpInterrupt:
		sess.InterruptTask()

	case protocol.OpExecApproval:
		handleApproval(sess, op)

	case protocol.OpPatchApproval:
		handleApproval(sess, op)

	case protocol.OpAddToHistory:
		handleAddToHistory(sess, op)

	case protocol.OpGetHistoryEntry:
		handleGetHistoryEntry(sess, op)

	case protocol.OpListMcpTools:
		handleListMcpTools(sess)

	case protocol.OpListCustomPrompts:
		handleListCustomPrompts(sess)

	case protocol.OpCompact:
		handleCompact(ctx, sess)

	case protocol.OpGetPath:
		handleGetPath(sess)

	case protocol.OpReview:
		handleReview(ctx, sess, op)

	case protocol.OpShutdown:
		handleShutdown(sess)
		return true

	default:
		codexlog.For("submitloop").Warn().Str("kind", string(op.Kind)).Msg("unknown op kind")
	}
	return false
}

// itemsFromInput collapses a UserInput/UserTurn op's InputItems into a
// single Message ResponseItem, the shape a submitted turn's content takes
// (spec.md §4.10: one op carries one user turn's content array).
func itemsFromInput(items []protocol.InputItem) []protocol.ResponseItem {
	if len(items) == 0 {
		return nil
	}
	content := make([]protocol.ContentItem, 0, len(items))
	for _, it := range items {
		if it.ImagePath != "" {
			if dataURL, err := loadImageDataURL(it.ImagePath); err == nil {
				content = append(content, protocol.ContentItem{Kind: protocol.ContentInputImage, ImageURL: dataURL})
			} else {
				codexlog.For("submitloop").Warn().Str("path", it.ImagePath).Err(err).Msg("failed to load image")
			}
		}
		if it.Text != "" {
			content = append(content, protocol.ContentItem{Kind: protocol.ContentInputText, Text: it.Text})
		}
	}
	return []protocol.ResponseItem{{Kind: protocol.ItemMessage, Role: "user", Content: content}}
}

func handleUserInput(ctx context.Context, sess *session.Session, op protocol.Op) {
	items := itemsFromInput(op.Items)
	if sess.InjectInput(items) {
		return
	}
	tc := sess.TurnContext()
	tc.SubID = uuid.NewString()
	spawnTask(ctx, sess, tc, items, false)
}

func handleUserTurn(ctx context.Context, sess *session.Session, op protocol.Op) {
	current := sess.TurnContext()
	items := itemsFromInput(op.Items)

	if sess.InjectInput(items) {
		return
	}

	next := current.WithOverrides(op.Overrides)
	next.SubID = uuid.NewString()
	recordEnvironmentContextIfChanged(sess, current, op.Overrides)
	sess.SetTurnContext(next)
	spawnTask(ctx, sess, next, items, false)
}

func handleOverrideTurnContext(sess *session.Session, op protocol.Op) {
	current := sess.TurnContext()
	next := current.WithOverrides(op.Overrides)
	recordEnvironmentContextIfChanged(sess, current, op.Overrides)
	sess.SetTurnContext(next)
}

// recordEnvironmentContextIfChanged records an EnvironmentContext item into
// both the shared Context Manager and the rollout file whenever the
// overrides change the cwd, approval policy, sandbox mode or network access
// (spec.md §4.10).
func recordEnvironmentContextIfChanged(sess *session.Session, current protocol.TurnContext, overrides protocol.TurnContextOverrides) {
	if !current.Changed(overrides) {
		return
	}
	next := current.WithOverrides(overrides)
	item := protocol.NewEnvironmentContext(next.EnvironmentContextFor(sess.Shell()))
	sess.History().RecordItems([]protocol.ResponseItem{item})
	if rec := sess.Recorder(); rec != nil {
		_ = rec.RecordItems([]protocol.RolloutItem{{Kind: protocol.RolloutResponseItem, ResponseItem: &item}})
	}
}

func spawnTask(ctx context.Context, sess *session.Session, tc protocol.TurnContext, input []protocol.ResponseItem, reviewMode bool) {
	task, err := sess.NewTask(tc, input, reviewMode)
	if err != nil {
		sess.SendEvent(protocol.Event{Kind: protocol.EventError, SubID: tc.SubID, Message: err.Error()})
		return
	}
	sess.SetTask(ctx, task)
}

// handleApproval resolves a pending approval. An Abort decision interrupts
// the whole task rather than just draining the Approval Gate, since a
// denied-by-abort command must also stop the in-flight model stream (spec.md
// §5's cancellation semantics), which Gate.NotifyApproval alone cannot do.
func handleApproval(sess *session.Session, op protocol.Op) {
	if op.Decision == protocol.DecisionAbort {
		sess.InterruptTask()
		return
	}
	sess.NotifyApproval(op.ApprovalSubID, op.Decision)
}

func handleAddToHistory(sess *session.Session, op protocol.Op) {
	mh := sess.MessageHistory()
	if mh == nil {
		return
	}
	if _, err := mh.Append(op.HistoryText); err != nil {
		codexlog.For("submitloop").Warn().Err(err).Msg("failed to append message history")
	}
}

func handleGetHistoryEntry(sess *session.Session, op protocol.Op) {
	mh := sess.MessageHistory()
	if mh == nil {
		sess.SendEvent(protocol.Event{Kind: protocol.EventGetHistoryEntryResponse, HistoryOffset: op.HistoryOffset})
		return
	}
	line, ok, err := mh.Lookup(op.HistoryLogID, op.HistoryOffset)
	if err != nil {
		codexlog.For("submitloop").Warn().Err(err).Msg("failed to look up message history entry")
	}
	if !ok {
		line = ""
	}
	sess.SendEvent(protocol.Event{
		Kind:          protocol.EventGetHistoryEntryResponse,
		HistoryOffset: op.HistoryOffset,
		HistoryLine:   line,
	})
}

func handleListMcpTools(sess *session.Session) {
	specs := sess.Registry().List()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	sess.SendEvent(protocol.Event{Kind: protocol.EventMcpListToolsResponse, Tools: names})
}

// handleListCustomPrompts answers with an empty list: custom prompt
// discovery reads a directory of markdown files the CLI surfaces (not the
// engine), so the engine itself has nothing to enumerate beyond the empty
// default until a prompt directory is wired in at the CLI layer.
func handleListCustomPrompts(sess *session.Session) {
	sess.SendEvent(protocol.Event{Kind: protocol.EventListCustomPromptsResponse, CustomPrompts: nil})
}

// handleCompact runs an explicit compaction. If a task is currently running,
// a summarization request is queued as pending input on that task instead of
// running inline, since compacting a history mid-stream would race the
// task's own reads of it.
func handleCompact(ctx context.Context, sess *session.Session) {
	const compactTrigger = "Summarize the conversation so far."
	if sess.InjectInput([]protocol.ResponseItem{protocol.NewUserMessage(compactTrigger)}) {
		codexlog.For("submitloop").Debug().Msg("compact requested while a task is running; queued as pending input")
		return
	}
	runCompactionNow(ctx, sess)
}

func runCompactionNow(ctx context.Context, sess *session.Session) {
	tc := sess.TurnContext()
	client, err := sess.ModelClientFor(tc.ModelClientName)
	if err != nil {
		sess.SendEvent(protocol.Event{Kind: protocol.EventError, Message: err.Error()})
		return
	}
	if err := turnloop.RunCompaction(ctx, client, sess.Recorder(), sess.History()); err != nil {
		sess.SendEvent(protocol.Event{Kind: protocol.EventError, Message: err.Error()})
		return
	}
	metrics.CompactionRun()
}

func handleGetPath(sess *session.Session) {
	if rec := sess.Recorder(); rec != nil {
		_ = rec.Flush()
	}
	sess.SendEvent(protocol.Event{Kind: protocol.EventConversationPath, RolloutPath: sess.RolloutPath()})
}

func handleReview(ctx context.Context, sess *session.Session, op protocol.Op) {
	if op.Review == nil {
		return
	}
	base := sess.TurnContext()
	reviewTC := base
	reviewTC.IsReviewMode = true
	reviewTC.SubID = uuid.NewString()
	if op.Review.Model != "" {
		reviewTC.Model = op.Review.Model
	}
	input := []protocol.ResponseItem{protocol.NewUserMessage(op.Review.Prompt)}
	spawnTask(ctx, sess, reviewTC, input, true)
}

func handleShutdown(sess *session.Session) {
	if err := sess.Shutdown(); err != nil {
		codexlog.For("submitloop").Warn().Err(err).Msg("error shutting down session")
	}
	sess.SendEvent(protocol.Event{Kind: protocol.EventShutdownComplete})
	sess.CloseEvents()
}

// startCompactionSchedule registers a periodic idle-session compaction
// check, grounded on internal/cron's own robfig/cron usage for schedule
// parsing, generalized here to the simpler "fire a callback on a cron
// expression" shape since this check doesn't need a job store or execution
// history the way the teacher's user-facing scheduled jobs do.
func startCompactionSchedule(ctx context.Context, sess *session.Session, opts Options) (*cron.Cron, error) {
	if opts.CompactionCron == "" || opts.CompactionTokenLimit <= 0 {
		return nil, nil
	}
	c := cron.New()
	_, err := c.AddFunc(opts.CompactionCron, func() {
		checkIdleCompaction(ctx, sess, opts.CompactionTokenLimit)
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

func checkIdleCompaction(ctx context.Context, sess *session.Session, limit int64) {
	if sess.HasCurrentTask() {
		return
	}
	if sess.History().EstimateTokenCount() < limit {
		return
	}
	codexlog.For("submitloop").Info().Msg("idle session over auto-compact limit, compacting proactively")
	runCompactionNow(ctx, sess)
}

// loadImageDataURL mirrors toolhub.Dispatcher's dispatchViewImage encoding,
// used here so a UserInput/UserTurn op's InputItem.ImagePath attaches the
// same way a view_image tool call's pending image does.
func loadImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "jpg" {
		ext = "jpeg"
	}
	return fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(data)), nil
}
