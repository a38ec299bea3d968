package execrunner

import (
	"context"
	"testing"
	"time"
)

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), Params{Command: []string{"sh", "-c", "echo hello; echo world 1>&2"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.Stderr != "world\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "world\n")
	}
	if res.Aggregated != "hello\nworld\n" {
		t.Errorf("Aggregated = %q, want %q", res.Aggregated, "hello\nworld\n")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunReportsNonzeroExitCode(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), Params{Command: []string{"sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", res.ExitCode)
	}
}

func TestRunHonorsTimeout(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), Params{
		Command:   []string{"sleep", "5"},
		TimeoutMs: 50,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected TimedOut = true")
	}
	if res.Duration > 2*time.Second {
		t.Errorf("Duration = %v, expected to return shortly after the timeout", res.Duration)
	}
}
