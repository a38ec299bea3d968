// Package protocol defines the wire and in-memory data model shared by every
// component of the turn engine: response items, rollout records, turn
// contexts, submissions, and events. These are plain data types; behavior
// lives in the internal packages that consume them.
package protocol

// ContentItemKind discriminates the payload carried by a Message content item.
type ContentItemKind string

const (
	ContentInputText  ContentItemKind = "input_text"
	ContentOutputText ContentItemKind = "output_text"
	ContentInputImage ContentItemKind = "input_image"
)

// ContentItem is one piece of a Message's content array.
type ContentItem struct {
	Kind ContentItemKind `json:"kind"`
	Text string          `json:"text,omitempty"`
	// ImageURL holds a data: URL or file reference for ContentInputImage.
	ImageURL string `json:"image_url,omitempty"`
}

// ResponseItemKind discriminates the tagged ResponseItem variants from
// spec.md §3.
type ResponseItemKind string

const (
	ItemMessage            ResponseItemKind = "message"
	ItemReasoning          ResponseItemKind = "reasoning"
	ItemFunctionCall       ResponseItemKind = "function_call"
	ItemFunctionCallOutput ResponseItemKind = "function_call_output"
	ItemCustomToolCall     ResponseItemKind = "custom_tool_call"
	ItemCustomToolCallOut  ResponseItemKind = "custom_tool_call_output"
	ItemLocalShellCall     ResponseItemKind = "local_shell_call"
	ItemWebSearchCall      ResponseItemKind = "web_search_call"
	ItemEnvironmentContext ResponseItemKind = "environment_context"
)

// FunctionCallOutputPayload is the body of a FunctionCallOutput item.
type FunctionCallOutputPayload struct {
	Content string `json:"content"`
	// Success is a tri-state: nil means "unknown" (e.g. argument parse
	// failures report content but leave success unset).
	Success *bool `json:"success,omitempty"`
}

// LocalShellAction describes the argv a LocalShellCall asks to run.
type LocalShellAction struct {
	Command          []string          `json:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	TimeoutMs        int64             `json:"timeout_ms,omitempty"`
}

// ResponseItem is a single tagged entry in a ConversationHistory. Exactly
// one of the variant-specific fields is populated, selected by Kind.
type ResponseItem struct {
	Kind ResponseItemKind `json:"kind"`

	// Message
	Role    string        `json:"role,omitempty"`
	Content []ContentItem `json:"content,omitempty"`

	// Reasoning
	ReasoningID        string   `json:"reasoning_id,omitempty"`
	ReasoningSummary   []string `json:"reasoning_summary,omitempty"`
	ReasoningContent   []string `json:"reasoning_content,omitempty"`
	EncryptedReasoning string   `json:"encrypted_content,omitempty"`

	// FunctionCall / CustomToolCall / LocalShellCall share CallID.
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
	Input     string            `json:"input,omitempty"` // CustomToolCall
	Action    *LocalShellAction `json:"action,omitempty"`

	// FunctionCallOutput
	Output *FunctionCallOutputPayload `json:"output,omitempty"`
	// CustomToolCallOutput
	CustomOutput string `json:"custom_output,omitempty"`

	// EnvironmentContext (SPEC_FULL.md addition, §3): emitted when a
	// UserTurn/OverrideTurnContext op changes the cwd, approval policy,
	// sandbox mode or network access.
	Environment *EnvironmentContext `json:"environment,omitempty"`
}

// EnvironmentContext records the working-directory/policy snapshot in
// effect for a turn, recorded as a history item whenever it changes.
type EnvironmentContext struct {
	Cwd             string        `json:"cwd"`
	ApprovalPolicy  string        `json:"approval_policy"`
	SandboxPolicy   string        `json:"sandbox_policy"`
	NetworkAccess   bool          `json:"network_access"`
	Shell           string        `json:"shell,omitempty"`
}

// NewEnvironmentContext wraps ec in its ResponseItem envelope, the common
// case for recording a cwd/policy change into history.
func NewEnvironmentContext(ec EnvironmentContext) ResponseItem {
	return ResponseItem{
		Kind:        ItemEnvironmentContext,
		Environment: &ec,
	}
}

// NewUserMessage builds a Message ResponseItem with a single InputText
// content item, the common case for recording user submissions.
func NewUserMessage(text string) ResponseItem {
	return ResponseItem{
		Kind:    ItemMessage,
		Role:    "user",
		Content: []ContentItem{{Kind: ContentInputText, Text: text}},
	}
}

// NewAssistantMessage builds a Message ResponseItem carrying assistant
// output text.
func NewAssistantMessage(text string) ResponseItem {
	return ResponseItem{
		Kind:    ItemMessage,
		Role:    "assistant",
		Content: []ContentItem{{Kind: ContentOutputText, Text: text}},
	}
}

// TextContent concatenates all text-bearing content items of a Message,
// in order. Non-message items return "".
func (r ResponseItem) TextContent() string {
	if r.Kind != ItemMessage {
		return ""
	}
	var out string
	for _, c := range r.Content {
		if c.Kind == ContentInputText || c.Kind == ContentOutputText {
			out += c.Text
		}
	}
	return out
}

// IsToolCall reports whether the item represents a call awaiting an output
// (FunctionCall, CustomToolCall, or LocalShellCall), i.e. it must be
// matched by a *Output item per the ConversationHistory invariant.
func (r ResponseItem) IsToolCall() bool {
	switch r.Kind {
	case ItemFunctionCall, ItemCustomToolCall, ItemLocalShellCall:
		return true
	default:
		return false
	}
}

// IsToolOutput reports whether the item satisfies a prior tool call.
func (r ResponseItem) IsToolOutput() bool {
	switch r.Kind {
	case ItemFunctionCallOutput, ItemCustomToolCallOut:
		return true
	default:
		return false
	}
}

// OutputCallID returns the call_id a *Output item resolves, or "" if the
// item is not an output item.
func (r ResponseItem) OutputCallID() string {
	if r.IsToolOutput() {
		return r.CallID
	}
	return ""
}

// AbortedFunctionCallOutput synthesizes the FunctionCallOutput inserted for
// a FunctionCall/LocalShellCall left dangling by an aborted turn (spec.md
// §8, invariant 1).
func AbortedFunctionCallOutput(callID string) ResponseItem {
	success := false
	return ResponseItem{
		Kind:   ItemFunctionCallOutput,
		CallID: callID,
		Output: &FunctionCallOutputPayload{Content: "aborted", Success: &success},
	}
}

// AbortedCustomToolCallOutput is the CustomToolCallOutput variant of the
// same synthesis, used by the Stream Protocol Driver (spec.md §4.7) when it
// detects missing outputs for CustomToolCall items.
func AbortedCustomToolCallOutput(callID string) ResponseItem {
	return ResponseItem{
		Kind:         ItemCustomToolCallOut,
		CallID:       callID,
		CustomOutput: "aborted",
	}
}
