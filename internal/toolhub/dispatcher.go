package toolhub

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codexturn/codexturn/internal/approval"
	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/execrunner"
	"github.com/codexturn/codexturn/internal/metrics"
	"github.com/codexturn/codexturn/internal/patchtool"
	"github.com/codexturn/codexturn/internal/sandboxsafety"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// MCPCaller dispatches a namespaced "server__tool" call to a connected MCP
// server. internal/mcp supplies the concrete implementation; Dispatcher
// only depends on this narrow interface so toolhub has no import of the
// MCP SDK itself.
type MCPCaller interface {
	Call(ctx context.Context, server, tool, argumentsJSON string) (content string, success bool, err error)
}

// Request is one tool invocation to dispatch (spec.md §4.3: "given (name,
// arguments_json, call_id)"), generalized to also carry the LocalShellCall
// and CustomToolCall variants the rest of ResponseItem supports.
type Request struct {
	SubID  string
	CallID string

	// Kind selects which ResponseItem variant originated this call, which
	// in turn selects the Output shape Dispatch must produce.
	Kind protocol.ResponseItemKind // ItemFunctionCall | ItemCustomToolCall | ItemLocalShellCall

	Name          string // tool name; unused for ItemLocalShellCall
	ArgumentsJSON string // FunctionCall.Arguments
	Input         string // CustomToolCall.Input
	Action        *protocol.LocalShellAction

	TC protocol.TurnContext

	// SessionApproved is mutated in place when the user grants
	// ApprovedForSession for a command (spec.md §9, DESIGN.md's Open
	// Question decision: only ever written on an explicit
	// ApprovedForSession, never inferred).
	SessionApproved map[string]bool
}

// Result is what Dispatch returns: the tool's output item, any events it
// raised along the way, and (for view_image) the image content item the
// turn loop should fold into the next user message.
type Result struct {
	Output       protocol.ResponseItem
	Events       []protocol.Event
	PendingImage *protocol.ContentItem
}

// Dispatcher wires the built-in tools to their backing packages:
// sandboxsafety+execrunner for shell/container.exec, patchtool for
// apply_patch, an in-memory plan store for update_plan, the local
// filesystem for view_image, and sessionTable for the PTY-like
// exec_command/write_stdin/unified_exec family.
//
// Grounded on internal/agent/tool_registry.go's Runtime.Execute dispatch
// switch and internal/agent/tool_exec.go's shell-tool handler, generalized
// from the teacher's single sandbox/provider pairing to the four-outcome
// assess-then-run pipeline spec.md §4.3/§4.5 describes.
type Dispatcher struct {
	registry *Registry
	runner   *execrunner.Runner
	gate     *approval.Gate
	sessions *SessionTable
	mcp      MCPCaller

	mu           sync.Mutex
	diffTrackers map[string]*patchtool.DiffTracker
	plans        map[string][]PlanStep
}

// NewDispatcher wires a Dispatcher. mcp may be nil if no MCP servers are
// configured.
func NewDispatcher(registry *Registry, runner *execrunner.Runner, gate *approval.Gate, sessions *SessionTable, mcp MCPCaller) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		runner:       runner,
		gate:         gate,
		sessions:     sessions,
		mcp:          mcp,
		diffTrackers: map[string]*patchtool.DiffTracker{},
		plans:        map[string][]PlanStep{},
	}
}

// DiffTrackerFor returns (creating if absent) the per-turn DiffTracker for
// subID, so the Turn Loop can read it at turn end to emit TurnDiff.
func (d *Dispatcher) DiffTrackerFor(subID string) *patchtool.DiffTracker {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.diffTrackers[subID]
	if !ok {
		t = patchtool.NewDiffTracker()
		d.diffTrackers[subID] = t
	}
	return t
}

// ResetDiffTracker drops subID's accumulated diff, called by the Turn Loop
// once it has emitted (or skipped) the TurnDiff event for that turn.
func (d *Dispatcher) ResetDiffTracker(subID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.diffTrackers, subID)
}

// Dispatch routes req to its handler and always returns a Result — a
// malformed call or unknown tool name produces a FunctionCallOutput
// explaining the problem rather than an error (spec.md §4.3).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	start := time.Now()
	res := d.dispatch(ctx, req)
	metrics.RecordToolCall(toolMetricName(req), time.Since(start), dispatchSucceeded(res))
	return res
}

// toolMetricName labels a local_shell_call by its tool name rather than
// leaving the metric label empty, since Request.Name is unused for that
// variant.
func toolMetricName(req Request) string {
	if req.Kind == protocol.ItemLocalShellCall {
		return "local_shell_call"
	}
	return req.Name
}

// dispatchSucceeded reports whether res represents a successful tool
// outcome. Only FunctionCallOutputPayload carries an explicit tri-state
// Success; other output kinds (custom tool output, MCP) are counted as
// successful since they have no equivalent failure signal to inspect here.
func dispatchSucceeded(res Result) bool {
	if res.Output.Output != nil && res.Output.Output.Success != nil {
		return *res.Output.Output.Success
	}
	return true
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Result {
	if req.Kind == protocol.ItemLocalShellCall {
		if req.Action == nil {
			return d.failure(req, "local_shell_call missing action")
		}
		return d.dispatchShellArgv(ctx, req, req.Action.Command, coalesce(req.Action.WorkingDirectory, req.TC.Cwd), req.Action.TimeoutMs, req.Action.Env, false, "")
	}

	switch req.Name {
	case ToolShell, ToolContainerExec:
		var args ShellArgs
		if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
			return d.failure(req, msg)
		}
		return d.dispatchShellArgv(ctx, req, args.Command, coalesce(args.Cwd, req.TC.Cwd), args.TimeoutMs, args.Env, args.WithEscalatedPermissions, args.Justification)

	case ToolApplyPatch:
		body := req.Input
		if body == "" {
			var args struct {
				Input string `json:"input"`
			}
			if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
				return d.failure(req, msg)
			}
			body = args.Input
		}
		return d.applyPatchFromParse(req, patchtool.Parse(body))

	case ToolUpdatePlan:
		return d.dispatchUpdatePlan(req)

	case ToolViewImage:
		return d.dispatchViewImage(req)

	case ToolExecCommand:
		return d.dispatchExecCommand(ctx, req)

	case ToolWriteStdin:
		return d.dispatchWriteStdin(ctx, req)

	case ToolUnifiedExec:
		return d.dispatchUnifiedExec(ctx, req)

	default:
		if server, tool, ok := splitMCPName(req.Name); ok && d.mcp != nil {
			return d.dispatchMCP(ctx, req, server, tool)
		}
		return d.unsupported(req)
	}
}

func splitMCPName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx >= len(name)-2 {
		return "", "", false
	}
	return name[:idx], name[idx+2:], true
}

func (d *Dispatcher) dispatchMCP(ctx context.Context, req Request, server, tool string) Result {
	content, success, err := d.mcp.Call(ctx, server, tool, req.ArgumentsJSON)
	if err != nil {
		return d.failure(req, fmt.Sprintf("mcp call %s failed: %v", req.Name, err))
	}
	return d.output(req, content, &success)
}

// dispatchShellArgv is the shared path for shell/container.exec and
// LocalShellCall: it first checks whether argv is itself an apply_patch
// shell invocation (matching original_source's maybe_parse_apply_patch
// interception of exec calls), then classifies and runs a plain command.
func (d *Dispatcher) dispatchShellArgv(ctx context.Context, req Request, argv []string, cwd string, timeoutMs int64, env map[string]string, escalated bool, justification string) Result {
	if len(argv) == 0 {
		return d.failure(req, "command must not be empty")
	}

	pr := patchtool.ParseShellInvocation(argv, "")
	switch pr.Outcome {
	case patchtool.OutcomeBody, patchtool.OutcomeCorrectnessError:
		return d.applyPatchFromParse(req, pr)
	}
	// ShellParseError and NotApplyPatch both fall through to a regular exec.

	decision := sandboxsafety.Assess(sandboxsafety.Request{
		Argv:                     argv,
		ApprovalPolicy:           req.TC.ApprovalPolicy,
		SandboxPolicy:            req.TC.SandboxPolicy,
		SessionApproved:          req.SessionApproved,
		WithEscalatedPermissions: escalated,
	})

	switch decision.Outcome {
	case sandboxsafety.OutcomeReject:
		return d.output(req, decision.Reason, boolPtr(false))

	case sandboxsafety.OutcomeAskUser:
		begin := d.newEvent(protocol.EventExecApprovalRequest, req.SubID, req.CallID)
		begin.ProposedCommand = argv
		begin.Cwd = cwd
		begin.Reason = justification
		events := []protocol.Event{begin}

		ch := d.gate.RequestCommandApproval(ctx, req.SubID)
		var dec protocol.ReviewDecision
		select {
		case dec = <-ch:
		case <-ctx.Done():
			dec = protocol.DefaultDecision
		}
		switch dec {
		case protocol.DecisionDenied, protocol.DecisionAbort:
			res := d.output(req, "command not approved", boolPtr(false))
			res.Events = append(events, res.Events...)
			return res
		case protocol.DecisionApprovedForSession:
			sandboxsafety.RememberApproved(req.SessionApproved, argv)
		}
		res := d.execAndFormat(ctx, req, argv, cwd, timeoutMs, env, escalated, justification)
		res.Events = append(events, res.Events...)
		return res

	default: // OutcomeAutoApprove
		return d.execAndFormat(ctx, req, argv, cwd, timeoutMs, env, escalated, justification)
	}
}

func (d *Dispatcher) execAndFormat(ctx context.Context, req Request, argv []string, cwd string, timeoutMs int64, env map[string]string, escalated bool, justification string) Result {
	begin := d.newEvent(protocol.EventExecCommandBegin, req.SubID, req.CallID)
	begin.Command = argv
	begin.Cwd = cwd
	begin.Parsed = &protocol.ParsedCommand{Verb: filepath.Base(argv[0]), Argv: argv}

	result, err := d.runner.Run(ctx, execrunner.Params{
		Command:                  argv,
		Cwd:                      cwd,
		TimeoutMs:                timeoutMs,
		Env:                      env,
		WithEscalatedPermissions: escalated,
		Justification:            justification,
	})
	if err != nil {
		res := d.output(req, fmt.Sprintf("failed to start command: %v", err), boolPtr(false))
		res.Events = []protocol.Event{begin}
		return res
	}

	end := d.newEvent(protocol.EventExecCommandEnd, req.SubID, req.CallID)
	end.Stdout = result.Stdout
	end.Stderr = result.Stderr
	end.Aggregated = result.Aggregated
	end.ExitCode = result.ExitCode
	end.DurationMs = result.Duration.Milliseconds()
	end.Formatted = execrunner.Format(result.Aggregated, result.TimedOut, timeoutMs)

	success := result.ExitCode == 0
	out := d.output(req, end.Formatted, &success)
	out.Events = []protocol.Event{begin, end}
	return out
}

func (d *Dispatcher) applyPatchFromParse(req Request, pr patchtool.ParseResult) Result {
	switch pr.Outcome {
	case patchtool.OutcomeCorrectnessError:
		return d.output(req, pr.Message, boolPtr(false))
	case patchtool.OutcomeNotApplyPatch:
		return d.unsupported(req)
	}

	policy := req.TC.ApprovalPolicy
	needsApproval := policy == protocol.ApprovalOnRequest || policy == protocol.ApprovalUnlessTrusted
	var approvalEvents []protocol.Event
	if needsApproval {
		begin := d.newEvent(protocol.EventApplyPatchApprovalRequest, req.SubID, req.CallID)
		begin.Changes = summarizeChanges(pr.Changes)
		approvalEvents = append(approvalEvents, begin)

		ch := d.gate.RequestPatchApproval(context.Background(), req.SubID)
		dec := <-ch
		if dec == protocol.DecisionDenied || dec == protocol.DecisionAbort {
			res := d.output(req, "patch not approved", boolPtr(false))
			res.Events = append(approvalEvents, res.Events...)
			return res
		}
	}

	beginApply := d.newEvent(protocol.EventPatchApplyBegin, req.SubID, req.CallID)
	beginApply.Changes = summarizeChanges(pr.Changes)
	beginApply.AutoApproved = !needsApproval

	results, err := patchtool.Apply(req.TC.Cwd, pr.Changes)
	tracker := d.DiffTrackerFor(req.SubID)
	for _, r := range results {
		tracker.Record(r)
	}

	endApply := d.newEvent(protocol.EventPatchApplyEnd, req.SubID, req.CallID)
	endApply.Changes = summarizeChanges(pr.Changes)
	endApply.Success = err == nil

	events := append(approvalEvents, beginApply, endApply)
	if err != nil {
		res := d.output(req, err.Error(), boolPtr(false))
		res.Events = events
		return res
	}
	res := d.output(req, fmt.Sprintf("applied %d change(s)", len(results)), boolPtr(true))
	res.Events = events
	return res
}

func summarizeChanges(changes []patchtool.Change) map[string]string {
	out := make(map[string]string, len(changes))
	for _, c := range changes {
		out[c.Path] = string(c.Kind)
	}
	return out
}

func (d *Dispatcher) dispatchUpdatePlan(req Request) Result {
	var args UpdatePlanArgs
	if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
		return d.failure(req, msg)
	}
	d.mu.Lock()
	d.plans[req.SubID] = args.Plan
	d.mu.Unlock()

	ev := d.newEvent(protocol.EventPlanUpdate, req.SubID, req.CallID)
	ev.Explanation = args.Explanation
	for _, s := range args.Plan {
		ev.Plan = append(ev.Plan, protocol.PlanStepInfo{Step: s.Step, Status: s.Status})
	}

	res := d.output(req, "plan updated", boolPtr(true))
	res.Events = []protocol.Event{ev}
	return res
}

// CurrentPlan returns the most recent update_plan call for subID, if any.
func (d *Dispatcher) CurrentPlan(subID string) []PlanStep {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.plans[subID]
}

func (d *Dispatcher) dispatchViewImage(req Request) Result {
	var args ViewImageArgs
	if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
		return d.failure(req, msg)
	}
	data, err := os.ReadFile(args.Path)
	if err != nil {
		return d.output(req, fmt.Sprintf("failed to read image %q: %v", args.Path, err), boolPtr(false))
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(args.Path)), ".")
	if ext == "jpg" {
		ext = "jpeg"
	}
	dataURL := fmt.Sprintf("data:image/%s;base64,%s", ext, base64.StdEncoding.EncodeToString(data))

	res := d.output(req, fmt.Sprintf("image %q attached to the next turn", args.Path), boolPtr(true))
	res.PendingImage = &protocol.ContentItem{Kind: protocol.ContentInputImage, ImageURL: dataURL}
	return res
}

func (d *Dispatcher) unsupported(req Request) Result {
	codexlog.For("toolhub").Warn().Str("tool", req.Name).Msg("unsupported call")
	return d.output(req, fmt.Sprintf("unsupported call: %s", req.Name), nil)
}

func (d *Dispatcher) failure(req Request, message string) Result {
	return d.output(req, message, boolPtr(false))
}

// output builds the FunctionCallOutput or CustomToolCallOutput item
// matching req.Kind, so a handler never has to know which variant the
// model used to invoke it (spec.md §4.3).
func (d *Dispatcher) output(req Request, content string, success *bool) Result {
	if req.Kind == protocol.ItemCustomToolCall {
		return Result{Output: protocol.ResponseItem{
			Kind:         protocol.ItemCustomToolCallOut,
			CallID:       req.CallID,
			CustomOutput: content,
		}}
	}
	return Result{Output: protocol.ResponseItem{
		Kind:   protocol.ItemFunctionCallOutput,
		CallID: req.CallID,
		Output: &protocol.FunctionCallOutputPayload{Content: content, Success: success},
	}}
}

func (d *Dispatcher) newEvent(kind protocol.EventKind, subID, callID string) protocol.Event {
	return protocol.Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Time:   time.Now(),
		SubID:  subID,
		CallID: callID,
	}
}

func boolPtr(b bool) *bool { return &b }

func coalesce(primary, fallback string) string {
	if primary != "" {
		return primary
	}
	return fallback
}
