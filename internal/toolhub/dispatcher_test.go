package toolhub

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codexturn/codexturn/internal/approval"
	"github.com/codexturn/codexturn/internal/execrunner"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func newTestDispatcher() (*Dispatcher, *approval.Gate) {
	gate := approval.New()
	d := NewDispatcher(NewRegistry(), execrunner.New(), gate, NewSessionTable(), nil)
	return d, gate
}

func tcWithPolicy(cwd string, policy protocol.ApprovalPolicy) protocol.TurnContext {
	return protocol.TurnContext{Cwd: cwd, ApprovalPolicy: policy, SandboxPolicy: protocol.SandboxPolicy{Mode: protocol.SandboxWorkspaceWrite}}
}

func TestDispatchUnknownToolIsUnsupported(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: "does_not_exist", CallID: "c1",
		TC: tcWithPolicy(t.TempDir(), protocol.ApprovalNever),
	})
	if res.Output.Output == nil || !strings.Contains(res.Output.Output.Content, "unsupported call: does_not_exist") {
		t.Fatalf("Output = %+v", res.Output.Output)
	}
}

func TestDispatchShellAutoApproveUnderNeverPolicy(t *testing.T) {
	d, _ := newTestDispatcher()
	args, _ := json.Marshal(ShellArgs{Command: []string{"sh", "-c", "echo hi"}})
	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: ToolShell, CallID: "c1",
		ArgumentsJSON: string(args),
		TC:            tcWithPolicy(t.TempDir(), protocol.ApprovalNever),
	})
	if res.Output.Output == nil || res.Output.Output.Success == nil || !*res.Output.Output.Success {
		t.Fatalf("expected success output, got %+v", res.Output.Output)
	}
	if !strings.Contains(res.Output.Output.Content, "hi") {
		t.Errorf("Content = %q, want it to contain 'hi'", res.Output.Output.Content)
	}
	var hasBegin, hasEnd bool
	for _, e := range res.Events {
		if e.Kind == protocol.EventExecCommandBegin {
			hasBegin = true
		}
		if e.Kind == protocol.EventExecCommandEnd {
			hasEnd = true
		}
	}
	if !hasBegin || !hasEnd {
		t.Errorf("Events = %+v, want begin+end exec events", res.Events)
	}
}

func TestDispatchShellAskUserDeniedBlocksAndReturnsFailure(t *testing.T) {
	d, gate := newTestDispatcher()
	args, _ := json.Marshal(ShellArgs{Command: []string{"mytool", "--danger"}})

	go func() {
		deadline := time.Now().Add(time.Second)
		for gate.Pending() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		gate.NotifyApproval("sub-1", protocol.DecisionDenied)
	}()

	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: ToolShell, CallID: "c1", SubID: "sub-1",
		ArgumentsJSON: string(args),
		TC:            tcWithPolicy(t.TempDir(), protocol.ApprovalOnRequest),
	})
	if res.Output.Output == nil || res.Output.Output.Success == nil || *res.Output.Output.Success {
		t.Fatalf("expected a failure output, got %+v", res.Output.Output)
	}
	if !strings.Contains(res.Output.Output.Content, "not approved") {
		t.Errorf("Content = %q", res.Output.Output.Content)
	}
}

func TestDispatchApplyPatchAddsFile(t *testing.T) {
	d, _ := newTestDispatcher()
	root := t.TempDir()
	body := "*** Begin Patch\n*** Add File: note.txt\n+hello\n*** End Patch\n"

	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemCustomToolCall, Name: ToolApplyPatch, CallID: "c1", SubID: "sub-1",
		Input: body,
		TC:    tcWithPolicy(root, protocol.ApprovalNever),
	})
	if res.Output.Kind != protocol.ItemCustomToolCallOut {
		t.Fatalf("Output.Kind = %v, want ItemCustomToolCallOut", res.Output.Kind)
	}
	if !strings.Contains(res.Output.CustomOutput, "applied 1 change") {
		t.Errorf("CustomOutput = %q", res.Output.CustomOutput)
	}
	data, err := os.ReadFile(filepath.Join(root, "note.txt"))
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file content = %q", data)
	}
	if d.DiffTrackerFor("sub-1").Empty() {
		t.Error("expected diff tracker to record the add")
	}
}

func TestDispatchUpdatePlanRecordsPlan(t *testing.T) {
	d, _ := newTestDispatcher()
	args, _ := json.Marshal(UpdatePlanArgs{Plan: []PlanStep{{Step: "write tests", Status: "in_progress"}}})
	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: ToolUpdatePlan, CallID: "c1", SubID: "sub-1",
		ArgumentsJSON: string(args),
		TC:            tcWithPolicy(t.TempDir(), protocol.ApprovalNever),
	})
	if res.Output.Output == nil || res.Output.Output.Success == nil || !*res.Output.Output.Success {
		t.Fatalf("Output = %+v", res.Output.Output)
	}
	plan := d.CurrentPlan("sub-1")
	if len(plan) != 1 || plan[0].Step != "write tests" {
		t.Errorf("CurrentPlan = %+v", plan)
	}
	if len(res.Events) != 1 || res.Events[0].Kind != protocol.EventPlanUpdate {
		t.Errorf("Events = %+v, want one PlanUpdate", res.Events)
	}
}

func TestDispatchViewImageAttachesDataURL(t *testing.T) {
	d, _ := newTestDispatcher()
	root := t.TempDir()
	path := filepath.Join(root, "shot.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}
	args, _ := json.Marshal(ViewImageArgs{Path: path})
	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: ToolViewImage, CallID: "c1",
		ArgumentsJSON: string(args),
		TC:            tcWithPolicy(root, protocol.ApprovalNever),
	})
	if res.PendingImage == nil {
		t.Fatal("expected PendingImage to be set")
	}
	if !strings.HasPrefix(res.PendingImage.ImageURL, "data:image/png;base64,") {
		t.Errorf("ImageURL = %q", res.PendingImage.ImageURL)
	}
}

func TestDispatchShellMalformedArgumentsFailsGracefully(t *testing.T) {
	d, _ := newTestDispatcher()
	res := d.Dispatch(context.Background(), Request{
		Kind: protocol.ItemFunctionCall, Name: ToolShell, CallID: "c1",
		ArgumentsJSON: "not json",
		TC:            tcWithPolicy(t.TempDir(), protocol.ApprovalNever),
	})
	if res.Output.Output == nil || res.Output.Output.Success == nil || *res.Output.Output.Success {
		t.Fatalf("expected failure output for malformed arguments, got %+v", res.Output.Output)
	}
}
