package protocol

// TokenUsage is the token accounting for a single model stream completion
// (spec.md §3). Fields are monotonic increasing within one stream.
type TokenUsage struct {
	Input           int64 `json:"input"`
	CachedInput     int64 `json:"cached_input"`
	Output          int64 `json:"output"`
	ReasoningOutput int64 `json:"reasoning_output"`
	Total           int64 `json:"total"`
}

// Add returns the element-wise sum of two TokenUsage values.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		Input:           u.Input + o.Input,
		CachedInput:     u.CachedInput + o.CachedInput,
		Output:          u.Output + o.Output,
		ReasoningOutput: u.ReasoningOutput + o.ReasoningOutput,
		Total:           u.Total + o.Total,
	}
}

// TokenUsageInfo accumulates TokenUsage across every turn of a session.
type TokenUsageInfo struct {
	LastTurn TokenUsage `json:"last_turn"`
	Total    TokenUsage `json:"total"`
}

// Accumulate folds the usage of a completed turn into the running total and
// records it as the most recent turn's usage.
func (info *TokenUsageInfo) Accumulate(turn TokenUsage) {
	info.LastTurn = turn
	info.Total = info.Total.Add(turn)
}

// RateLimitWindow describes one rate-limit bucket (primary or secondary).
type RateLimitWindow struct {
	UsedPercent     float64 `json:"used_percent"`
	WindowMinutes   int64   `json:"window_minutes"`
	ResetsInSeconds int64   `json:"resets_in_seconds,omitempty"`
}

// RateLimitSnapshot is the most recent rate-limit bookkeeping reported by
// the model provider (spec.md §3). Credits and PlanType are sticky: a
// partial update must not clobber a previously observed non-null value.
type RateLimitSnapshot struct {
	PrimaryWindow   *RateLimitWindow `json:"primary_window,omitempty"`
	SecondaryWindow *RateLimitWindow `json:"secondary_window,omitempty"`
	Credits         *float64         `json:"credits,omitempty"`
	PlanType        *string          `json:"plan_type,omitempty"`
}

// MergeSticky applies an incoming (possibly partial) snapshot on top of the
// current one, keeping the last non-null Credits/PlanType rather than
// letting a nil in the update erase a previously known value.
func (s RateLimitSnapshot) MergeSticky(update RateLimitSnapshot) RateLimitSnapshot {
	merged := update
	if update.Credits == nil {
		merged.Credits = s.Credits
	}
	if update.PlanType == nil {
		merged.PlanType = s.PlanType
	}
	if update.PrimaryWindow == nil {
		merged.PrimaryWindow = s.PrimaryWindow
	}
	if update.SecondaryWindow == nil {
		merged.SecondaryWindow = s.SecondaryWindow
	}
	return merged
}
