package main

import (
	"testing"

	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestToUsagePkgMapsFields(t *testing.T) {
	u := toUsagePkg(protocol.TokenUsage{Input: 100, CachedInput: 10, Output: 20})
	if u.InputTokens != 100 || u.CacheReadTokens != 10 || u.OutputTokens != 20 {
		t.Fatalf("unexpected mapping: %+v", u)
	}
}

func TestPrintTokenUsageHandlesNil(t *testing.T) {
	printTokenUsage("claude-opus-4", nil) // must not panic
}

func TestBuildUsageReportCmdNoProvidersConfigured(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	cmd := buildUsageReportCmd()
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
