package toolhub

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codexturn/codexturn/internal/codexlog"
)

// TTL configuration for finished sessions, unchanged from the teacher's
// bash process table this is adapted from.
const (
	DefaultJobTTL = 30 * time.Minute
	MinJobTTL     = 1 * time.Minute
	MaxJobTTL     = 3 * time.Hour

	DefaultPendingOutputChars = 30_000
	DefaultTailChars          = 2000
)

// SessionStatus is the lifecycle state of an ExecSession.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionKilled    SessionStatus = "killed"
)

// ExecSession is a live process backing an exec_command/unified_exec call:
// a PTY-like long-lived session the model can write_stdin into and poll
// for output across multiple tool calls, rather than blocking one call on
// the whole process lifetime.
//
// Adapted from internal/shell/process_registry.go's ProcessSession: the
// teacher's type is pure bookkeeping (some other executor calls
// AppendOutput/MarkExited on it); this version owns the actual
// *exec.Cmd, its stdin pipe, and the goroutines that read its output, so
// SessionTable is a complete PTY-like tool backend rather than a registry
// over an external process manager.
type ExecSession struct {
	ID        string
	Command   []string
	Cwd       string
	PID       int
	StartedAt time.Time

	cmd      *exec.Cmd
	stdin    io.WriteCloser
	maxChars int

	mu         sync.Mutex
	pendingOut []string
	pendingErr []string
	pendingOutChars int
	pendingErrChars int
	aggregated string
	tail       string
	exitCode   *int
	exited     bool
	truncated  bool
}

// FinishedExecSession is the retained summary of a completed session, kept
// for jobTTL after exit.
type FinishedExecSession struct {
	ID         string
	Command    []string
	Cwd        string
	StartedAt  time.Time
	EndedAt    time.Time
	Status     SessionStatus
	ExitCode   *int
	Aggregated string
	Tail       string
	Truncated  bool
}

// SessionTable backs the exec_command/write_stdin/unified_exec tools
// (spec.md §4.3): a table of live, session-scoped shell processes the
// model addresses by session_id across multiple tool calls.
type SessionTable struct {
	mu       sync.RWMutex
	running  map[string]*ExecSession
	finished map[string]*FinishedExecSession
	logger   zerolog.Logger
	jobTTL   time.Duration

	sweeperStop chan struct{}
	sweeperDone chan struct{}
}

// NewSessionTable returns an empty table with the default job TTL.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		running:  map[string]*ExecSession{},
		finished: map[string]*FinishedExecSession{},
		logger:   codexlog.For("toolhub.sessions"),
		jobTTL:   DefaultJobTTL,
	}
}

// ClampTTL bounds a requested TTL to [MinJobTTL, MaxJobTTL].
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < MinJobTTL {
		return MinJobTTL
	}
	if ttl > MaxJobTTL {
		return MaxJobTTL
	}
	return ttl
}

// Start spawns command under cwd and registers it as a new running
// session, returning its ID (a fresh uuid if id is empty).
func (t *SessionTable) Start(ctx context.Context, id string, command []string, cwd string) (*ExecSession, error) {
	if id == "" {
		id = uuid.NewString()
	}
	t.mu.RLock()
	_, takenR := t.running[id]
	_, takenF := t.finished[id]
	t.mu.RUnlock()
	if takenR || takenF {
		return nil, sessionTakenError(id)
	}

	cmd := exec.Command(command[0], command[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	sess := &ExecSession{
		ID:        id,
		Command:   command,
		Cwd:       cwd,
		StartedAt: time.Now(),
		cmd:       cmd,
		stdin:     stdin,
		maxChars:  DefaultPendingOutputChars,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	sess.PID = cmd.Process.Pid

	t.mu.Lock()
	t.running[id] = sess
	t.mu.Unlock()
	t.startSweeper()

	go t.pump(sess, stdout, "stdout")
	go t.pump(sess, stderr, "stderr")
	go t.wait(sess)

	t.logger.Debug().Str("id", id).Int("pid", sess.PID).Strs("command", command).Msg("started session")
	return sess, nil
}

func (t *SessionTable) pump(sess *ExecSession, r io.Reader, stream string) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.appendOutput(sess, stream, string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (t *SessionTable) wait(sess *ExecSession) {
	err := sess.cmd.Wait()
	var code *int
	status := SessionCompleted
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			c := exitErr.ExitCode()
			code = &c
			status = SessionFailed
		} else {
			status = SessionFailed
		}
	} else {
		c := 0
		code = &c
	}
	t.markExited(sess, code, status)
}

// appendOutput folds a chunk into the session's pending and aggregated
// buffers, capping both (spec.md §4.3.A, adapted from
// ProcessRegistry.AppendOutput).
func (t *SessionTable) appendOutput(sess *ExecSession, stream, chunk string) {
	if chunk == "" {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var buffer *[]string
	var pendingChars *int
	if stream == "stdout" {
		buffer, pendingChars = &sess.pendingOut, &sess.pendingOutChars
	} else {
		buffer, pendingChars = &sess.pendingErr, &sess.pendingErrChars
	}
	*buffer = append(*buffer, chunk)
	*pendingChars += len(chunk)
	if *pendingChars > DefaultPendingOutputChars {
		sess.truncated = true
		*pendingChars = capPendingBuffer(buffer, *pendingChars, DefaultPendingOutputChars)
	}

	newAggregated := trimWithCap(sess.aggregated+chunk, sess.maxChars)
	if len(newAggregated) < len(sess.aggregated)+len(chunk) {
		sess.truncated = true
	}
	sess.aggregated = newAggregated
	sess.tail = tail(sess.aggregated, DefaultTailChars)
}

// Drain returns and clears a session's pending stdout/stderr, the portion
// of output the model has not yet seen (spec.md §4.3.A).
func (t *SessionTable) Drain(id string) (stdout, stderr string, ok bool) {
	t.mu.RLock()
	sess, exists := t.running[id]
	t.mu.RUnlock()
	if !exists {
		return "", "", false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, c := range sess.pendingOut {
		stdout += c
	}
	for _, c := range sess.pendingErr {
		stderr += c
	}
	sess.pendingOut = nil
	sess.pendingErr = nil
	sess.pendingOutChars = 0
	sess.pendingErrChars = 0
	return stdout, stderr, true
}

// WriteStdin writes text to a running session's stdin.
func (t *SessionTable) WriteStdin(id, text string) error {
	t.mu.RLock()
	sess, ok := t.running[id]
	t.mu.RUnlock()
	if !ok {
		return sessionNotFoundError(id)
	}
	_, err := sess.stdin.Write([]byte(text))
	return err
}

// Get returns a running session.
func (t *SessionTable) Get(id string) (*ExecSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.running[id]
	return s, ok
}

// GetFinished returns a finished session's summary.
func (t *SessionTable) GetFinished(id string) (*FinishedExecSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.finished[id]
	return s, ok
}

func (t *SessionTable) markExited(sess *ExecSession, code *int, status SessionStatus) {
	sess.mu.Lock()
	sess.exited = true
	sess.exitCode = code
	sess.tail = tail(sess.aggregated, DefaultTailChars)
	agg, tl, truncated := sess.aggregated, sess.tail, sess.truncated
	sess.mu.Unlock()

	t.mu.Lock()
	delete(t.running, sess.ID)
	t.finished[sess.ID] = &FinishedExecSession{
		ID: sess.ID, Command: sess.Command, Cwd: sess.Cwd,
		StartedAt: sess.StartedAt, EndedAt: time.Now(), Status: status,
		ExitCode: code, Aggregated: agg, Tail: tl, Truncated: truncated,
	}
	t.mu.Unlock()
	t.logger.Debug().Str("id", sess.ID).Str("status", string(status)).Msg("session finished")
}

// Kill terminates a running session, marking it SessionKilled.
func (t *SessionTable) Kill(id string) error {
	t.mu.RLock()
	sess, ok := t.running[id]
	t.mu.RUnlock()
	if !ok {
		return sessionNotFoundError(id)
	}
	if sess.cmd.Process == nil {
		return nil
	}
	return sess.cmd.Process.Kill()
}

func (t *SessionTable) startSweeper() {
	t.mu.Lock()
	if t.sweeperStop != nil {
		t.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	t.sweeperStop, t.sweeperDone = stop, done
	ttl := t.jobTTL
	t.mu.Unlock()

	interval := ttl / 6
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	go t.sweepLoop(interval, stop, done)
}

// StopSweeper halts the background pruning goroutine (tests, shutdown).
func (t *SessionTable) StopSweeper() {
	t.mu.Lock()
	if t.sweeperStop == nil {
		t.mu.Unlock()
		return
	}
	stop, done := t.sweeperStop, t.sweeperDone
	t.sweeperStop, t.sweeperDone = nil, nil
	t.mu.Unlock()
	close(stop)
	<-done
}

func (t *SessionTable) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.pruneFinished()
		}
	}
}

func (t *SessionTable) pruneFinished() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-t.jobTTL)
	for id, s := range t.finished {
		if s.EndedAt.Before(cutoff) {
			delete(t.finished, id)
		}
	}
}

func tail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[len(text)-n:]
}

func trimWithCap(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	return text[len(text)-max:]
}

func capPendingBuffer(buffer *[]string, pendingChars, cap int) int {
	if pendingChars <= cap {
		return pendingChars
	}
	if len(*buffer) > 0 {
		last := (*buffer)[len(*buffer)-1]
		if len(last) >= cap {
			*buffer = []string{last[len(last)-cap:]}
			return cap
		}
	}
	for len(*buffer) > 0 && pendingChars-len((*buffer)[0]) >= cap {
		pendingChars -= len((*buffer)[0])
		*buffer = (*buffer)[1:]
	}
	if len(*buffer) > 0 && pendingChars > cap {
		overflow := pendingChars - cap
		(*buffer)[0] = (*buffer)[0][overflow:]
		pendingChars = cap
	}
	return pendingChars
}

type sessionTakenErr string

func (e sessionTakenErr) Error() string { return "toolhub: session id " + string(e) + " already in use" }
func sessionTakenError(id string) error { return sessionTakenErr(id) }

type sessionNotFoundErr string

func (e sessionNotFoundErr) Error() string { return "toolhub: no running session " + string(e) }
func sessionNotFoundError(id string) error { return sessionNotFoundErr(id) }
