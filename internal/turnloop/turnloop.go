// Package turnloop implements the Turn Loop (spec.md §4.8): the state
// machine that drives repeated model round trips for one submitted task,
// recording new items into the Context Manager and Rollout Recorder,
// dispatching tool calls through the Tool Registry, triggering inline
// auto-compaction when the conversation grows too large, and handling
// review-mode turns and cancellation.
//
// Grounded on internal/agent/loop.go's AgenticLoop: the same
// init/stream/execute-tools/continue phase structure, generalized from the
// teacher's tool-policy-and-job-queue specifics (already covered here by
// internal/approval and internal/toolhub) to spec.md §4.8's retry/
// auto-compact/review-mode contract.
package turnloop

import (
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// EmitFunc delivers one outbound Event to the session's event channel (C9
// owns the channel; the Turn Loop only needs to hand events off).
type EmitFunc func(protocol.Event)

// Deps wires the already-built components a Task orchestrates. A single
// Deps value is shared by every Task a session spawns.
type Deps struct {
	Client     modelstream.ModelClient
	Dispatcher *toolhub.Dispatcher
	Registry   *toolhub.Registry
	Recorder   *rollout.Recorder

	// BaseInstructions is the system/developer prompt prefixed to every
	// non-review turn. ReviewBaseInstructions overrides it for review-mode
	// tasks, matching spec.md §4.11's forked REVIEW_PROMPT instructions.
	BaseInstructions       string
	ReviewBaseInstructions string

	// AutoCompactTokenLimit triggers run_inline_auto_compact once
	// History.EstimateTokenCount() reaches it (spec.md §4.8). Zero disables
	// auto-compaction.
	AutoCompactTokenLimit int64
}
