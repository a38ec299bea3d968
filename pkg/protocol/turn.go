package protocol

// ApprovalPolicy controls how aggressively the engine asks the user before
// running a command (spec.md §3).
type ApprovalPolicy string

const (
	ApprovalNever         ApprovalPolicy = "never"
	ApprovalOnFailure     ApprovalPolicy = "on-failure"
	ApprovalOnRequest     ApprovalPolicy = "on-request"
	ApprovalUnlessTrusted ApprovalPolicy = "unless-trusted"
)

// SandboxMode discriminates the SandboxPolicy tagged variants.
type SandboxMode string

const (
	SandboxReadOnly        SandboxMode = "read-only"
	SandboxWorkspaceWrite  SandboxMode = "workspace-write"
	SandboxDangerFullAccess SandboxMode = "danger-full-access"
)

// SandboxPolicy is the containment rule applied when a command auto-runs
// (spec.md §3).
type SandboxPolicy struct {
	Mode SandboxMode `json:"mode"`

	// WorkspaceWrite fields; only meaningful when Mode == SandboxWorkspaceWrite.
	WritableRoots []string `json:"writable_roots,omitempty"`
	NetworkAccess bool     `json:"network_access,omitempty"`
	ExcludeTmp    bool     `json:"exclude_tmp,omitempty"`
}

// AllowsNetwork reports whether the policy permits outbound network access.
func (p SandboxPolicy) AllowsNetwork() bool {
	switch p.Mode {
	case SandboxDangerFullAccess:
		return true
	case SandboxWorkspaceWrite:
		return p.NetworkAccess
	default:
		return false
	}
}

// ReasoningSummaryMode controls how much of the model's reasoning is
// surfaced as ReasoningSummary* events.
type ReasoningSummaryMode string

const (
	ReasoningSummaryAuto     ReasoningSummaryMode = "auto"
	ReasoningSummaryConcise  ReasoningSummaryMode = "concise"
	ReasoningSummaryDetailed ReasoningSummaryMode = "detailed"
	ReasoningSummaryNone     ReasoningSummaryMode = "none"
)

// ToolsConfig lists which built-in and MCP tools are exposed to the model
// for a turn.
type ToolsConfig struct {
	Shell        bool     `json:"shell"`
	ApplyPatch   bool     `json:"apply_patch"`
	UpdatePlan   bool     `json:"update_plan"`
	ViewImage    bool     `json:"view_image"`
	ExecCommand  bool     `json:"exec_command"`
	UnifiedExec  bool     `json:"unified_exec"`
	WebSearch    bool     `json:"web_search"`
	McpServers   []string `json:"mcp_servers,omitempty"`
}

// TurnContext is the immutable snapshot of settings in effect for one
// submitted turn (spec.md §3). A new TurnContext is constructed whenever
// any field changes; the struct itself is never mutated in place.
type TurnContext struct {
	// Cwd is the absolute working directory for exec/patch operations.
	Cwd string `json:"cwd"`

	ApprovalPolicy ApprovalPolicy `json:"approval_policy"`
	SandboxPolicy  SandboxPolicy  `json:"sandbox_policy"`

	Model                string               `json:"model"`
	ReasoningEffort      string               `json:"reasoning_effort,omitempty"`
	ReasoningSummaryMode ReasoningSummaryMode `json:"reasoning_summary_mode,omitempty"`

	Tools ToolsConfig `json:"tools"`

	IsReviewMode bool `json:"is_review_mode,omitempty"`

	// SubID correlates this turn's events and approvals.
	SubID string `json:"sub_id"`

	// ModelClientName names the registered ModelClient (see
	// internal/modelstream) this turn streams against; the engine does not
	// hold the client itself on the TurnContext value so that TurnContext
	// remains a plain, comparable snapshot.
	ModelClientName string `json:"model_client"`
}

// WithOverrides returns a copy of tc with any non-zero-value fields of
// patch applied. Used by the Submission Loop (spec.md §4.10) to build a new
// persistent TurnContext from OverrideTurnContext/UserTurn operations
// without mutating the original.
func (tc TurnContext) WithOverrides(patch TurnContextOverrides) TurnContext {
	next := tc
	if patch.Cwd != nil {
		next.Cwd = *patch.Cwd
	}
	if patch.ApprovalPolicy != nil {
		next.ApprovalPolicy = *patch.ApprovalPolicy
	}
	if patch.SandboxPolicy != nil {
		next.SandboxPolicy = *patch.SandboxPolicy
	}
	if patch.Model != nil {
		next.Model = *patch.Model
	}
	if patch.ReasoningEffort != nil {
		next.ReasoningEffort = *patch.ReasoningEffort
	}
	if patch.ReasoningSummaryMode != nil {
		next.ReasoningSummaryMode = *patch.ReasoningSummaryMode
	}
	return next
}

// TurnContextOverrides carries the optional per-field overrides accepted by
// UserTurn and OverrideTurnContext submissions (spec.md §4.10).
type TurnContextOverrides struct {
	Cwd                  *string
	ApprovalPolicy       *ApprovalPolicy
	SandboxPolicy        *SandboxPolicy
	Model                *string
	ReasoningEffort      *string
	ReasoningSummaryMode *ReasoningSummaryMode
}

// Changed reports whether applying the overrides to tc would change the
// cwd, approval policy, sandbox mode or network access (the fields an
// EnvironmentContext records); model and reasoning overrides do not count.
// Used to decide whether an EnvironmentContext history item must be
// recorded (spec.md §4.10).
func (tc TurnContext) Changed(patch TurnContextOverrides) bool {
	candidate := tc.WithOverrides(patch)
	return candidate.Cwd != tc.Cwd ||
		candidate.ApprovalPolicy != tc.ApprovalPolicy ||
		candidate.SandboxPolicy.Mode != tc.SandboxPolicy.Mode ||
		candidate.SandboxPolicy.AllowsNetwork() != tc.SandboxPolicy.AllowsNetwork()
}

// EnvironmentContextFor renders the EnvironmentContext history item for tc.
func (tc TurnContext) EnvironmentContextFor(shell string) EnvironmentContext {
	return EnvironmentContext{
		Cwd:            tc.Cwd,
		ApprovalPolicy: string(tc.ApprovalPolicy),
		SandboxPolicy:  string(tc.SandboxPolicy.Mode),
		NetworkAccess:  tc.SandboxPolicy.AllowsNetwork(),
		Shell:          shell,
	}
}
