package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordToolCallIncrementsCounter(t *testing.T) {
	RecordToolCall("shell", 10*time.Millisecond, true)
	RecordToolCall("shell", 5*time.Millisecond, false)

	got := testutil.ToFloat64(get().toolCounter.WithLabelValues("shell", "success"))
	if got != 1 {
		t.Fatalf("success count = %v, want 1", got)
	}
	got = testutil.ToFloat64(get().toolCounter.WithLabelValues("shell", "error"))
	if got != 1 {
		t.Fatalf("error count = %v, want 1", got)
	}
}

func TestRecordLLMTokensIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(get().llmTokensUsed.WithLabelValues("fake", "input"))
	RecordLLMTokens("fake", "input", 0)
	RecordLLMTokens("fake", "input", -5)
	after := testutil.ToFloat64(get().llmTokensUsed.WithLabelValues("fake", "input"))
	if before != after {
		t.Fatalf("counter moved for non-positive count: %v -> %v", before, after)
	}

	RecordLLMTokens("fake", "input", 42)
	after = testutil.ToFloat64(get().llmTokensUsed.WithLabelValues("fake", "input"))
	if after != before+42 {
		t.Fatalf("counter = %v, want %v", after, before+42)
	}
}

func TestSessionGaugeTracksOpenClose(t *testing.T) {
	before := testutil.ToFloat64(get().activeSessions)
	SessionOpened()
	if got := testutil.ToFloat64(get().activeSessions); got != before+1 {
		t.Fatalf("gauge = %v, want %v", got, before+1)
	}
	SessionClosed()
	if got := testutil.ToFloat64(get().activeSessions); got != before {
		t.Fatalf("gauge = %v, want %v", got, before)
	}
}
