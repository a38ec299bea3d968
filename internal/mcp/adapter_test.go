package mcp

import (
	"context"
	"testing"
)

func TestToolhubCallerCallUnknownServer(t *testing.T) {
	caller := NewToolhubCaller(NewManager(&Config{Enabled: true}, nil))

	_, success, err := caller.Call(context.Background(), "missing", "sometool", `{}`)
	if err == nil {
		t.Fatal("expected an error for an unconnected server")
	}
	if success {
		t.Fatal("success should be false on error")
	}
}

func TestToolhubCallerCallInvalidArguments(t *testing.T) {
	caller := NewToolhubCaller(NewManager(&Config{Enabled: true}, nil))

	content, success, err := caller.Call(context.Background(), "missing", "sometool", `not json`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if success {
		t.Fatal("success should be false for invalid arguments")
	}
	if content == "" {
		t.Fatal("expected an explanatory content string")
	}
}
