// Package execrunner implements the Exec & Sandbox Runner (spec.md §4.5):
// it spawns the argv a shell/container.exec tool call asked for, captures
// stdout/stderr/aggregated output and timing in full, and separately
// formats a head+tail-truncated view for the model.
package execrunner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/codexturn/codexturn/internal/codexlog"
)

// Params is the input to Run (spec.md §4.5).
type Params struct {
	Command                  []string
	Cwd                      string
	TimeoutMs                int64
	Env                      map[string]string
	WithEscalatedPermissions bool
	Justification            string
}

// Result is the full, untruncated record of a completed exec (spec.md
// §4.5): "captures stdout and stderr fully (no truncation for the
// client)". Formatting for the model happens separately via Format.
type Result struct {
	Stdout     string
	Stderr     string
	Aggregated string
	ExitCode   int
	Duration   time.Duration
	TimedOut   bool
}

// Runner spawns commands under the sandbox type chosen by
// internal/sandboxsafety's Assess. The "platform" and Windows-sandbox
// variants gate on build tags / OS-specific containment that isn't
// exercised on every platform; SandboxNone always runs the plain argv.
type Runner struct{}

// New returns a Runner.
func New() *Runner {
	return &Runner{}
}

// Run executes params.Command, capturing stdout, stderr, and an
// interleaved aggregated stream. A non-nil error is only returned for
// failures to start the process (bad argv, missing cwd); a nonzero exit
// code or timeout is reported in Result, not as an error.
func (r *Runner) Run(ctx context.Context, params Params) (Result, error) {
	if len(params.Command) == 0 {
		return Result{}, fmt.Errorf("execrunner: empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if params.TimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, params.Command[0], params.Command[1:]...)
	if params.Cwd != "" {
		cmd.Dir = params.Cwd
	}
	if params.Env != nil {
		env := os.Environ()
		for k, v := range params.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	agg := &interleaved{}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &teeWriter{primary: &stdoutBuf, agg: agg}
	cmd.Stderr = &teeWriter{primary: &stderrBuf, agg: agg}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	if timedOut {
		codexlog.For("execrunner").Warn().Strs("command", params.Command).Msg("command timed out")
	}

	return Result{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		Aggregated: agg.String(),
		ExitCode:   exitCode(err),
		Duration:   duration,
		TimedOut:   timedOut,
	}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// interleaved accumulates writes from both stdout and stderr in the order
// they arrive, guarded by a single mutex so concurrent writers don't race.
type interleaved struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (i *interleaved) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.buf.Write(p)
}

func (i *interleaved) String() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.buf.String()
}

// teeWriter fans a stream out to its own buffer and the shared aggregated
// stream.
type teeWriter struct {
	primary *bytes.Buffer
	agg     *interleaved
}

func (t *teeWriter) Write(p []byte) (int, error) {
	t.primary.Write(p)
	return t.agg.Write(p)
}
