package protocol

import "time"

// ConversationId is an opaque unique identifier, stable for the lifetime of
// a session (spec.md §3).
type ConversationId string

// RolloutItemKind discriminates the tagged RolloutItem variants (spec.md
// §3). RolloutItems are ordered and append-only.
type RolloutItemKind string

const (
	RolloutResponseItem RolloutItemKind = "response_item"
	RolloutEventMsg     RolloutItemKind = "event_msg"
	RolloutTurnContext  RolloutItemKind = "turn_context"
	RolloutCompacted    RolloutItemKind = "compacted"
)

// RolloutItem is one newline-delimited record in the rollout file.
// Readers must tolerate unknown Kind values for forward compatibility
// (spec.md §6).
type RolloutItem struct {
	Kind RolloutItemKind `json:"kind"`

	ResponseItem *ResponseItem `json:"response_item,omitempty"`
	Event        *Event        `json:"event,omitempty"`
	TurnContext  *TurnContext  `json:"turn_context,omitempty"`
	Compacted    *CompactedSummary `json:"compacted,omitempty"`
}

// CompactedSummary is the payload of a Compacted RolloutItem: the summary
// message substituted for the history tail during compaction (spec.md
// §4.1, §8 invariant 5).
type CompactedSummary struct {
	Summary string `json:"summary"`
}

// RolloutHeader is the first record of a rollout file, identifying the
// conversation (spec.md §6).
type RolloutHeader struct {
	ConversationID   ConversationId `json:"conversation_id"`
	UserInstructions string         `json:"user_instructions,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}
