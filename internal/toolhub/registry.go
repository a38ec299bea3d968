// Package toolhub implements the Tool Registry & Dispatcher (spec.md §4.3):
// the closed set of built-in tools plus dynamically registered MCP tools,
// and the single Dispatch entrypoint the Turn Loop calls per tool-call
// ResponseItem.
package toolhub

import (
	"sync"
)

// Names of the built-in tools spec.md §4.3 enumerates.
const (
	ToolShell          = "shell"
	ToolContainerExec  = "container.exec"
	ToolApplyPatch     = "apply_patch"
	ToolUpdatePlan     = "update_plan"
	ToolViewImage      = "view_image"
	ToolExecCommand    = "exec_command"
	ToolWriteStdin     = "write_stdin"
	ToolUnifiedExec    = "unified_exec"
)

// Spec is one entry in the tool list presented to the model: a name, a
// free-form description, and its JSON-schema parameters. The turn loop's
// model-stream driver renders these into the provider-specific tool-call
// format; toolhub only tracks what's available and how to reach it.
type Spec struct {
	Name        string
	Description string
	ParamsJSONSchema string
}

// Registry holds the tool specs currently presented to the model: the
// built-ins (always present, subject to TurnContext.Tools filtering by the
// caller) plus MCP tools registered per spec.md §4.3 as "server__tool".
//
// Grounded on internal/agent/tool_registry.go's ToolRegistry: a
// mutex-guarded name->entry map with Register/Unregister/Get, generalized
// here to hold specs rather than executable Go closures since toolhub's
// built-in tools are dispatched by a fixed switch in Dispatcher rather than
// through registered handler funcs (MCP tools are the only dynamic kind).
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// MaxToolNameLength bounds a registered tool name, matching the teacher's
// own registry limit.
const MaxToolNameLength = 256

// NewRegistry returns a Registry pre-populated with the built-in tool specs.
func NewRegistry() *Registry {
	r := &Registry{specs: map[string]Spec{}}
	for _, s := range builtinSpecs {
		r.specs[s.Name] = s
	}
	return r
}

var builtinSpecs = []Spec{
	{Name: ToolShell, Description: "Runs a shell command under the active sandbox policy."},
	{Name: ToolApplyPatch, Description: "Applies a structured patch envelope to the workspace."},
	{Name: ToolUpdatePlan, Description: "Records the agent's current step-by-step plan."},
	{Name: ToolViewImage, Description: "Injects a local image into the next user turn."},
	{Name: ToolExecCommand, Description: "Starts a session-scoped shell command (PTY-like)."},
	{Name: ToolWriteStdin, Description: "Writes to the stdin of a running exec_command session."},
	{Name: ToolUnifiedExec, Description: "Runs or continues a multiplexed exec session."},
}

// Register adds or replaces an MCP tool spec, namespaced as "server__tool"
// by the caller before calling Register.
func (r *Registry) Register(s Spec) error {
	if len(s.Name) == 0 || len(s.Name) > MaxToolNameLength {
		return errInvalidToolName(s.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[s.Name] = s
	return nil
}

// Unregister removes a tool spec (e.g. an MCP server that disconnected).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, name)
}

// Get returns the spec for name, if present.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// List returns every registered spec, for AsLLMTools-style enumeration.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

type invalidToolNameError string

func (e invalidToolNameError) Error() string { return "toolhub: invalid tool name " + string(e) }

func errInvalidToolName(name string) error { return invalidToolNameError(name) }
