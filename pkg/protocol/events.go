package protocol

import "time"

// EventKind enumerates the closed set of outbound event messages named in
// spec.md §6. Event is deliberately a single tagged struct (rather than an
// interface hierarchy) so that it serializes as one JSON shape per rollout
// record and one ndjson line per wire message.
type EventKind string

const (
	EventSessionConfigured          EventKind = "session_configured"
	EventTaskStarted                EventKind = "task_started"
	EventAgentMessage               EventKind = "agent_message"
	EventAgentMessageDelta          EventKind = "agent_message_delta"
	EventAgentReasoningSummaryDelta EventKind = "agent_reasoning_summary_delta"
	EventAgentReasoningContentDelta EventKind = "agent_reasoning_content_delta"
	EventAgentReasoningSummaryPart  EventKind = "agent_reasoning_summary_part_added"
	EventExecCommandBegin           EventKind = "exec_command_begin"
	EventExecCommandEnd             EventKind = "exec_command_end"
	EventPatchApplyBegin            EventKind = "patch_apply_begin"
	EventPatchApplyEnd              EventKind = "patch_apply_end"
	EventTurnDiff                   EventKind = "turn_diff"
	EventPlanUpdate                 EventKind = "plan_update"
	EventExecApprovalRequest        EventKind = "exec_approval_request"
	EventApplyPatchApprovalRequest  EventKind = "apply_patch_approval_request"
	EventWebSearchBegin             EventKind = "web_search_begin"
	EventTokenCount                 EventKind = "token_count"
	EventBackgroundEvent            EventKind = "background_event"
	EventStreamError                EventKind = "stream_error"
	EventError                      EventKind = "error"
	EventTurnAborted                EventKind = "turn_aborted"
	EventEnteredReviewMode          EventKind = "entered_review_mode"
	EventExitedReviewMode           EventKind = "exited_review_mode"
	EventTaskComplete               EventKind = "task_complete"
	EventShutdownComplete           EventKind = "shutdown_complete"
	EventConversationPath           EventKind = "conversation_path"
	EventGetHistoryEntryResponse    EventKind = "get_history_entry_response"
	EventMcpListToolsResponse       EventKind = "mcp_list_tools_response"
	EventListCustomPromptsResponse  EventKind = "list_custom_prompts_response"
)

// ParsedCommand describes an argv for UI display, attached to
// ExecCommandBegin (SPEC_FULL.md §3). The dispatcher sets Verb to the base
// name of argv[0] and Argv to the full argv; it does not classify the
// command further and leaves Summary empty.
type ParsedCommand struct {
	Verb    string   `json:"verb"`
	Summary string   `json:"summary,omitempty"`
	Argv    []string `json:"argv"`
}

// PlanStepInfo is one entry of an update_plan call, carried on PlanUpdate
// (SPEC_FULL.md §4.3.A, grounded on original_source's plan_tool handler).
type PlanStepInfo struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// ReviewFinding is one item of a ReviewOutputEvent (SPEC_FULL.md §3).
type ReviewFinding struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	File        string `json:"file,omitempty"`
	Line        int    `json:"line,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// ReviewOutputEvent is the structured judgement a review turn's final
// assistant message is parsed into (spec.md §4.11, SPEC_FULL.md §3).
type ReviewOutputEvent struct {
	Findings             []ReviewFinding `json:"findings"`
	OverallCorrectness   string          `json:"overall_correctness"`
	OverallExplanation   string          `json:"overall_explanation"`
	OverallConfidence    float64         `json:"overall_confidence_score"`
}

// Event is one message on the outbound session event channel (spec.md §6).
// Exactly one payload field is populated per Kind; unused fields are zero.
type Event struct {
	ID   string    `json:"id"`
	Kind EventKind `json:"kind"`
	Time time.Time `json:"time"`

	SubID string `json:"sub_id,omitempty"`
	CallID string `json:"call_id,omitempty"`

	// SessionConfigured
	SessionID          string   `json:"session_id,omitempty"`
	Model              string   `json:"model,omitempty"`
	ReasoningEffort    string   `json:"reasoning_effort,omitempty"`
	HistoryLogID       int64    `json:"history_log_id,omitempty"`
	HistoryEntryCount  int64    `json:"history_entry_count,omitempty"`
	InitialMessages    []string `json:"initial_messages,omitempty"`
	RolloutPath        string   `json:"rollout_path,omitempty"`

	// AgentMessage / AgentMessageDelta / reasoning deltas
	Text string `json:"text,omitempty"`

	// Exec events
	Command      []string       `json:"command,omitempty"`
	Cwd          string         `json:"cwd,omitempty"`
	Parsed       *ParsedCommand `json:"parsed,omitempty"`
	Stdout       string         `json:"stdout,omitempty"`
	Stderr       string         `json:"stderr,omitempty"`
	Aggregated   string         `json:"aggregated,omitempty"`
	ExitCode     int            `json:"exit_code,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	Formatted    string         `json:"formatted_output,omitempty"`

	// Patch events
	AutoApproved bool              `json:"auto_approved,omitempty"`
	Changes      map[string]string `json:"changes,omitempty"`
	Success      bool              `json:"success,omitempty"`

	// TurnDiff
	UnifiedDiff string `json:"unified_diff,omitempty"`

	// PlanUpdate
	Explanation string         `json:"explanation,omitempty"`
	Plan        []PlanStepInfo `json:"plan,omitempty"`

	// Approval requests
	ProposedCommand []string `json:"proposed_command,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	GrantRoot       string   `json:"grant_root,omitempty"`

	// TokenCount
	TokenUsage  *TokenUsageInfo    `json:"token_usage,omitempty"`
	RateLimits  *RateLimitSnapshot `json:"rate_limits,omitempty"`

	// BackgroundEvent / StreamError / Error
	Message string `json:"message,omitempty"`

	// TurnAborted
	AbortReason TurnAbortReason `json:"abort_reason,omitempty"`

	// ExitedReviewMode
	ReviewOutput *ReviewOutputEvent `json:"review_output,omitempty"`

	// TaskComplete
	LastAgentMessage *string `json:"last_agent_message,omitempty"`

	// GetHistoryEntryResponse
	HistoryOffset int64  `json:"history_offset,omitempty"`
	HistoryLine   string `json:"history_line,omitempty"`

	// McpListToolsResponse / ListCustomPromptsResponse
	Tools           []string `json:"tools,omitempty"`
	CustomPrompts   []string `json:"custom_prompts,omitempty"`
}
