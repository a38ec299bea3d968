package turnloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/internal/turnctx"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// compactionInstructions asks the model to produce the summary History.
// ApplyCompaction splices in for the dropped tail (spec.md §4.1, §4.8).
const compactionInstructions = "Summarize this conversation so far in a few concise paragraphs. " +
	"Preserve durable facts, decisions already made, and any open tasks. Do not call any tools."

// runInlineAutoCompact implements spec.md §4.8's run_inline_auto_compact: a
// single blocking model call (no tools) over the current history, whose
// output becomes the compacted summary History.ApplyCompaction keeps in
// place of the dropped middle of the conversation.
//
// Adapted from internal/agent/compaction.go's CompactionManager.Check,
// which triggers a flush once usage crosses ThresholdPercent; generalized
// from that async flush-then-confirm handshake (a callback plus a later
// ConfirmFlush/RejectFlush) to a single inline summarization step, since
// spec.md's auto-compaction is one synchronous stage inside the turn loop
// rather than a round trip back out to the user.
func (t *Task) runInlineAutoCompact(ctx context.Context) error {
	return RunCompaction(ctx, t.deps.Client, t.deps.Recorder, t.convo)
}

// RunCompaction runs the single blocking summarization call and splices its
// result into history via ApplyCompaction, recording a RolloutCompacted
// record if recorder is non-nil. Exported so the Submission Loop's explicit
// Compact op (spec.md §4.10: "if idle, spawn a compact task") can trigger
// the same step outside of a running Task's auto-compaction check.
func RunCompaction(ctx context.Context, client modelstream.ModelClient, recorder *rollout.Recorder, history *turnctx.History) error {
	summary, err := summarize(ctx, client, history)
	if err != nil {
		return fmt.Errorf("turnloop: compact: %w", err)
	}

	history.ApplyCompaction(summary)

	if recorder != nil {
		rec := protocol.RolloutItem{Kind: protocol.RolloutCompacted, Compacted: &protocol.CompactedSummary{Summary: summary}}
		if err := recorder.RecordItems([]protocol.RolloutItem{rec}); err != nil {
			return fmt.Errorf("turnloop: record compaction: %w", err)
		}
	}
	return nil
}

// summarize streams a tool-free completion over the full history and
// returns the assembled text. It talks to the ModelClient directly rather
// than through modelstream.Driver: a summarization call dispatches no tool
// calls and tracks no turn diff, so the Driver's bookkeeping would be
// entirely unused overhead here.
func summarize(ctx context.Context, client modelstream.ModelClient, history *turnctx.History) (string, error) {
	prompt := modelstream.Prompt{
		Input:                    history.Contents(),
		BaseInstructionsOverride: compactionInstructions,
	}

	events, err := client.Stream(ctx, prompt)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for ev := range events {
		if ev.Kind == modelstream.StreamOutputTextDelta {
			text.WriteString(ev.Delta)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("model returned no summary text")
	}
	return text.String(), nil
}
