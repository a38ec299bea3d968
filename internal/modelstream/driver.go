package modelstream

import (
	"context"
	"strings"
	"time"

	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/metrics"
	"github.com/codexturn/codexturn/internal/ratelimit"
	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// streamLimiter throttles outbound Stream calls per provider, keyed by
// ModelClient.Name(), so a retry storm against one provider (spec.md §4.8)
// doesn't also starve the others sharing this process.
var streamLimiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())

// DispatchFunc invokes the Tool Registry & Dispatcher (C3) for one tool-call
// item. The Driver calls this synchronously from OutputItemDone, per
// spec.md §4.7's "if the item is a tool call, dispatch via C3".
type DispatchFunc func(ctx context.Context, req toolhub.Request) toolhub.Result

// TurnDiffFunc reads back a turn's accumulated patch diff (backed by a
// patchtool.DiffTracker the Dispatcher owns per sub-id); the Driver uses it
// at Completed to decide whether to emit TurnDiff, without importing
// patchtool or toolhub's tracker map directly.
type TurnDiffFunc func() (unifiedDiff string, nonEmpty bool)

// Result is everything one Run of the driver produced: new ResponseItems
// (assistant output, tool calls, and their dispatched outputs, in order),
// the wire Events raised along the way, and the turn's usage/rate-limit
// bookkeeping (spec.md §4.7's Completed handling).
type Result struct {
	Items      []protocol.ResponseItem
	Events     []protocol.Event
	Usage      protocol.TokenUsage
	RateLimits protocol.RateLimitSnapshot

	// Text is the full assembled assistant message text for this turn,
	// accumulated from every StreamOutputTextDelta regardless of
	// prompt.ReviewMode (review turns suppress the delta *events* but the
	// Turn Loop still needs the final text to parse a ReviewOutputEvent
	// from, per spec.md §4.11).
	Text string

	// Err is set when the stream ended without a Completed event — the
	// Turn Loop (C8) retries in that case rather than treating it as a
	// terminal failure (spec.md §4.7's last row).
	Err error
}

// Driver is the Stream Protocol Driver (C7): it owns one ModelClient and
// turns its raw event stream into assembled ResponseItems plus dispatched
// tool outputs.
type Driver struct {
	client ModelClient
}

// NewDriver wires a Driver around a concrete ModelClient (an
// internal/modelstream/providers adapter).
func NewDriver(client ModelClient) *Driver {
	return &Driver{client: client}
}

// Run consumes one model stream to completion (or to a stream error),
// dispatching tool calls as they complete and returning the accumulated
// items/events for the Turn Loop to record.
func (d *Driver) Run(ctx context.Context, prompt Prompt, tc protocol.TurnContext, sessionApproved map[string]bool, dispatch DispatchFunc, turnDiff TurnDiffFunc) (res Result) {
	logger := codexlog.For("modelstream.driver")
	start := time.Now()
	defer func() {
		metrics.RecordLLMRequest(d.client.Name(), time.Since(start), res.Err)
		metrics.RecordLLMTokens(d.client.Name(), "input", res.Usage.Input)
		metrics.RecordLLMTokens(d.client.Name(), "output", res.Usage.Output)
	}()

	if wait := streamLimiter.WaitTime(d.client.Name()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		}
	}
	streamLimiter.Allow(d.client.Name())

	events, err := d.client.Stream(ctx, prompt)
	if err != nil {
		res.Err = err
		return res
	}

	var latestRL protocol.RateLimitSnapshot
	var text strings.Builder
	completed := false

	for ev := range events {
		switch ev.Kind {
		case StreamCreated:
			// no-op (spec.md §4.7)

		case StreamOutputItemDone:
			if ev.Item == nil {
				continue
			}
			item := *ev.Item
			res.Items = append(res.Items, item)

			if req, ok := requestFor(item, tc, sessionApproved); ok {
				out := dispatch(ctx, req)
				res.Events = append(res.Events, out.Events...)
				res.Items = append(res.Items, out.Output)
			}

		case StreamOutputTextDelta:
			text.WriteString(ev.Delta)
			if prompt.ReviewMode {
				continue
			}
			res.Events = append(res.Events, newTextEvent(protocol.EventAgentMessageDelta, tc.SubID, ev.Delta))

		case StreamReasoningSummaryDelta:
			res.Events = append(res.Events, newTextEvent(protocol.EventAgentReasoningSummaryDelta, tc.SubID, ev.Delta))

		case StreamReasoningContentDelta:
			res.Events = append(res.Events, newTextEvent(protocol.EventAgentReasoningContentDelta, tc.SubID, ev.Delta))

		case StreamReasoningSummaryPartAdded:
			res.Events = append(res.Events, protocol.Event{Kind: protocol.EventAgentReasoningSummaryPart, SubID: tc.SubID, Time: time.Now()})

		case StreamWebSearchCallBegin:
			res.Events = append(res.Events, protocol.Event{Kind: protocol.EventWebSearchBegin, SubID: tc.SubID, Time: time.Now()})

		case StreamRateLimits:
			if ev.RateLimits != nil {
				latestRL = latestRL.MergeSticky(*ev.RateLimits)
			}

		case StreamCompleted:
			completed = true
			if ev.Usage != nil {
				res.Usage = *ev.Usage
			}
			res.RateLimits = latestRL

			tokenEvt := protocol.Event{
				Kind:  protocol.EventTokenCount,
				SubID: tc.SubID,
				Time:  time.Now(),
				TokenUsage: &protocol.TokenUsageInfo{
					LastTurn: res.Usage,
					Total:    res.Usage,
				},
				RateLimits: &latestRL,
			}
			res.Events = append(res.Events, tokenEvt)

			if turnDiff != nil {
				if diff, nonEmpty := turnDiff(); nonEmpty {
					res.Events = append(res.Events, protocol.Event{
						Kind:        protocol.EventTurnDiff,
						SubID:       tc.SubID,
						Time:        time.Now(),
						UnifiedDiff: diff,
					})
				}
			}
		}
	}

	res.Text = text.String()

	if !completed {
		logger.Warn().Str("sub_id", tc.SubID).Msg("model stream ended without a Completed event")
		res.Err = errStreamEndedEarly
	}
	return res
}

// requestFor converts a just-assembled ResponseItem into a toolhub.Request
// if it is a tool call awaiting dispatch, per spec.md §4.7's "if the item
// is a tool call, dispatch via C3".
func requestFor(item protocol.ResponseItem, tc protocol.TurnContext, sessionApproved map[string]bool) (toolhub.Request, bool) {
	switch item.Kind {
	case protocol.ItemLocalShellCall:
		return toolhub.Request{
			SubID: tc.SubID, CallID: item.CallID, Kind: item.Kind,
			Action: item.Action, TC: tc, SessionApproved: sessionApproved,
		}, true
	case protocol.ItemFunctionCall:
		return toolhub.Request{
			SubID: tc.SubID, CallID: item.CallID, Kind: item.Kind,
			Name: item.Name, ArgumentsJSON: item.Arguments, TC: tc, SessionApproved: sessionApproved,
		}, true
	case protocol.ItemCustomToolCall:
		return toolhub.Request{
			SubID: tc.SubID, CallID: item.CallID, Kind: item.Kind,
			Name: item.Name, Input: item.Input, TC: tc, SessionApproved: sessionApproved,
		}, true
	default:
		return toolhub.Request{}, false
	}
}

func newTextEvent(kind protocol.EventKind, subID, text string) protocol.Event {
	return protocol.Event{Kind: kind, SubID: subID, Time: time.Now(), Text: text}
}

type streamEndedEarlyErr struct{}

func (streamEndedEarlyErr) Error() string { return "model stream ended without a completed response" }

var errStreamEndedEarly error = streamEndedEarlyErr{}
