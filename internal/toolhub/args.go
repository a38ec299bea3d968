package toolhub

import "encoding/json"

// ShellArgs is the arguments_json payload for the shell/container.exec
// tools (spec.md §4.3, §4.5).
type ShellArgs struct {
	Command                  []string          `json:"command"`
	Cwd                      string            `json:"cwd,omitempty"`
	TimeoutMs                int64             `json:"timeout_ms,omitempty"`
	Env                      map[string]string `json:"env,omitempty"`
	WithEscalatedPermissions bool              `json:"with_escalated_permissions,omitempty"`
	Justification            string            `json:"justification,omitempty"`
}

// PlanStep is one entry of an update_plan call.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"` // "pending" | "in_progress" | "completed"
}

// UpdatePlanArgs is the arguments_json payload for update_plan.
type UpdatePlanArgs struct {
	Explanation string     `json:"explanation,omitempty"`
	Plan        []PlanStep `json:"plan"`
}

// ViewImageArgs is the arguments_json payload for view_image.
type ViewImageArgs struct {
	Path string `json:"path"`
}

// ExecCommandArgs starts a session-scoped shell (spec.md §4.3).
type ExecCommandArgs struct {
	Command   []string `json:"command"`
	Cwd       string   `json:"cwd,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

// WriteStdinArgs feeds input into a running exec_command session.
type WriteStdinArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// UnifiedExecArgs either opens a new multiplexed session (Command non-empty)
// or continues an existing one (SessionID non-empty).
type UnifiedExecArgs struct {
	SessionID string   `json:"session_id,omitempty"`
	Command   []string `json:"command,omitempty"`
	Cwd       string   `json:"cwd,omitempty"`
	Input     string   `json:"input,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
}

// parseArgs unmarshals raw into v, returning a model-facing error string
// (spec.md §4.3: "parses the arguments, failing gracefully with a
// structured error to the model") rather than a Go error, since a
// malformed call is the model's mistake to correct, not a dispatcher fault.
func parseArgs(raw string, v interface{}) (failure string, ok bool) {
	if raw == "" {
		return "missing arguments", false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return "invalid arguments: " + err.Error(), false
	}
	return "", true
}
