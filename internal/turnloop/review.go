package turnloop

import (
	"encoding/json"
	"strings"

	"github.com/codexturn/codexturn/pkg/protocol"
)

// parseReviewOutput parses a review turn's final assistant message into a
// ReviewOutputEvent, tolerating a markdown code fence around the JSON
// (spec.md §4.11: "parsed as JSON or fallback"). When the text isn't valid
// JSON at all, it falls back to a single-field event carrying the raw text
// as the explanation rather than dropping the review's conclusion.
func parseReviewOutput(text string) *protocol.ReviewOutputEvent {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out protocol.ReviewOutputEvent
	if err := json.Unmarshal([]byte(stripMarkdownFence(text)), &out); err == nil {
		return &out
	}

	return &protocol.ReviewOutputEvent{
		OverallCorrectness: "unknown",
		OverallExplanation: text,
	}
}

func stripMarkdownFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
