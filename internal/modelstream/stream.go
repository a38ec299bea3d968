// Package modelstream implements the Stream Protocol Driver (spec.md §4.7):
// it opens an event stream against a model client, consumes model events,
// assembles ResponseItems, dispatches tool calls as they complete, and
// emits the wire Events the rest of the engine records and forwards.
//
// A concrete model client lives behind the ModelClient interface so the
// driver itself never imports a provider SDK; internal/modelstream/providers
// supplies the Anthropic, OpenAI, Bedrock, and Gemini adapters.
package modelstream

import (
	"context"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// StreamEventKind discriminates the tagged StreamEvent variants of spec.md
// §4.7's event table.
type StreamEventKind string

const (
	StreamCreated                   StreamEventKind = "created"
	StreamOutputItemDone            StreamEventKind = "output_item_done"
	StreamOutputTextDelta           StreamEventKind = "output_text_delta"
	StreamReasoningSummaryDelta     StreamEventKind = "reasoning_summary_delta"
	StreamReasoningContentDelta     StreamEventKind = "reasoning_content_delta"
	StreamReasoningSummaryPartAdded StreamEventKind = "reasoning_summary_part_added"
	StreamWebSearchCallBegin        StreamEventKind = "web_search_call_begin"
	StreamRateLimits                StreamEventKind = "rate_limits"
	StreamCompleted                 StreamEventKind = "completed"
)

// StreamEvent is one event read off a ModelClient's stream. Exactly one
// payload field is populated per Kind.
type StreamEvent struct {
	Kind StreamEventKind

	// OutputItemDone
	Item *protocol.ResponseItem

	// OutputTextDelta / ReasoningSummaryDelta / ReasoningContentDelta
	Delta string

	// ReasoningSummaryPartAdded carries no payload beyond the Kind.

	// RateLimits
	RateLimits *protocol.RateLimitSnapshot

	// Completed
	ResponseID string
	Usage      *protocol.TokenUsage
}

// Prompt is the input to one model stream (spec.md §4.7).
type Prompt struct {
	Input                    []protocol.ResponseItem
	Tools                    []toolhub.Spec
	BaseInstructionsOverride string

	// ReviewMode suppresses assistant Message/delta events from the model,
	// per spec.md §4.7's OutputItemDone/OutputTextDelta rows.
	ReviewMode bool
}

// ModelClient is the narrow seam between the driver and a concrete provider
// SDK (spec.md's "raw HTTP/SSE transport ... exposes stream(prompt) ->
// Stream<ResponseEvent>", out of scope for the engine itself but wired here
// via internal/modelstream/providers).
type ModelClient interface {
	Name() string
	Stream(ctx context.Context, prompt Prompt) (<-chan StreamEvent, error)

	// MaxStreamRetries bounds the Turn Loop's retry budget for this
	// provider's transient stream errors (spec.md §4.8).
	MaxStreamRetries() int
}
