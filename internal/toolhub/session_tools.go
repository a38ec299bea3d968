package toolhub

import (
	"context"
	"fmt"
)

// dispatchExecCommand starts a new session-scoped shell (spec.md §4.3),
// returning its session_id and whatever output has arrived by the time
// Dispatch returns — the model continues reading via write_stdin/
// unified_exec, since the process itself keeps running in the background.
func (d *Dispatcher) dispatchExecCommand(ctx context.Context, req Request) Result {
	var args ExecCommandArgs
	if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
		return d.failure(req, msg)
	}
	if len(args.Command) == 0 {
		return d.failure(req, "command must not be empty")
	}
	sess, err := d.sessions.Start(ctx, args.SessionID, args.Command, coalesce(args.Cwd, req.TC.Cwd))
	if err != nil {
		return d.output(req, fmt.Sprintf("failed to start session: %v", err), boolPtr(false))
	}
	stdout, stderr, _ := d.sessions.Drain(sess.ID)
	return d.output(req, fmt.Sprintf("session_id=%s\n%s%s", sess.ID, stdout, stderr), boolPtr(true))
}

// dispatchWriteStdin writes to a running exec_command session and returns
// whatever output has accumulated since the last drain.
func (d *Dispatcher) dispatchWriteStdin(ctx context.Context, req Request) Result {
	var args WriteStdinArgs
	if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
		return d.failure(req, msg)
	}
	if err := d.sessions.WriteStdin(args.SessionID, args.Text); err != nil {
		return d.output(req, err.Error(), boolPtr(false))
	}
	stdout, stderr, _ := d.sessions.Drain(args.SessionID)
	return d.output(req, stdout+stderr, boolPtr(true))
}

// dispatchUnifiedExec either opens a new multiplexed session (Command set)
// or drains an existing one (SessionID set), unifying exec_command and
// write_stdin behind one call surface (spec.md §4.3, adapted from
// internal/tools/exec/manager.go's session multiplexing).
func (d *Dispatcher) dispatchUnifiedExec(ctx context.Context, req Request) Result {
	var args UnifiedExecArgs
	if msg, ok := parseArgs(req.ArgumentsJSON, &args); !ok {
		return d.failure(req, msg)
	}

	if args.SessionID == "" {
		if len(args.Command) == 0 {
			return d.failure(req, "unified_exec requires either session_id or command")
		}
		sess, err := d.sessions.Start(ctx, "", args.Command, coalesce(args.Cwd, req.TC.Cwd))
		if err != nil {
			return d.output(req, fmt.Sprintf("failed to start session: %v", err), boolPtr(false))
		}
		stdout, stderr, _ := d.sessions.Drain(sess.ID)
		return d.output(req, fmt.Sprintf("session_id=%s\n%s%s", sess.ID, stdout, stderr), boolPtr(true))
	}

	if args.Input != "" {
		if err := d.sessions.WriteStdin(args.SessionID, args.Input); err != nil {
			return d.output(req, err.Error(), boolPtr(false))
		}
	}
	stdout, stderr, ok := d.sessions.Drain(args.SessionID)
	if !ok {
		if fin, ok := d.sessions.GetFinished(args.SessionID); ok {
			return d.output(req, fmt.Sprintf("session %s exited: %s", fin.ID, fin.Tail), boolPtr(true))
		}
		return d.output(req, "unknown session_id", boolPtr(false))
	}
	return d.output(req, stdout+stderr, boolPtr(true))
}
