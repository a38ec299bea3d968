// Package sandboxsafety classifies exec requests before the runner
// (internal/execrunner) ever spawns a process (spec.md §4.5:
// assess_command_safety). It decides whether a command auto-runs, needs a
// user prompt, or is refused outright.
package sandboxsafety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/codexturn/codexturn/pkg/protocol"
)

// Shell metacharacters that disqualify a command from the "known safe"
// read-only fast path, regardless of which argv0 it runs.
var shellMetachars = regexp.MustCompile("[;&|`$<>]")

// Decision is the outcome of assessing a command (spec.md §4.5).
type Decision struct {
	Kind SandboxType // meaningful only when Outcome == OutcomeAutoApprove
	Outcome Outcome
	Reason  string // populated for OutcomeReject
}

// Outcome discriminates the three possible assessments.
type Outcome string

const (
	OutcomeAutoApprove Outcome = "auto_approve"
	OutcomeAskUser     Outcome = "ask_user"
	OutcomeReject      Outcome = "reject"
)

// SandboxType names the containment mechanism an auto-approved command
// runs under.
type SandboxType string

const (
	SandboxNone     SandboxType = "none"
	SandboxPlatform SandboxType = "platform"
)

// knownSafeReadOnly is the set of argv0 values that never write or reach the
// network, and are therefore auto-approved under a read-only sandbox
// provided their arguments don't smuggle in a shell metacharacter escape
// hatch (e.g. `find . -exec sh -c ...`).
var knownSafeReadOnly = map[string]bool{
	"ls": true, "cat": true, "pwd": true, "echo": true, "head": true,
	"tail": true, "wc": true, "grep": true, "find": true, "stat": true,
	"file": true, "which": true, "true": true, "false": true, "env": true,
	"git": true, // read-only subcommands only; see isSafeGitInvocation
}

// gitWriteSubcommands are git subcommands excluded from the known-safe set
// even though `git` itself is usually read-only (status, log, diff, show).
var gitWriteSubcommands = map[string]bool{
	"commit": true, "push": true, "reset": true, "checkout": true,
	"merge": true, "rebase": true, "clean": true, "apply": true,
	"am": true, "cherry-pick": true, "stash": true, "tag": true,
}

// Request is the input to Assess: the full classification context spec.md
// §4.5 requires (argv, approval policy, sandbox policy, prior session
// approvals, escalation flag).
type Request struct {
	Argv                     []string
	ApprovalPolicy           protocol.ApprovalPolicy
	SandboxPolicy            protocol.SandboxPolicy
	SessionApproved          map[string]bool // keyed by joinedArgv
	WithEscalatedPermissions bool
}

// joinedArgv is the SessionApproved map key for a command.
func joinedArgv(argv []string) string {
	return strings.Join(argv, "\x1f")
}

// RememberApproved marks argv as approved for the rest of the session.
// Callers must only invoke this on protocol.DecisionApprovedForSession
// (never on a one-shot protocol.DecisionApproved) — see DESIGN.md's Open
// Question decision on escalated-permission persistence.
func RememberApproved(approved map[string]bool, argv []string) {
	approved[joinedArgv(argv)] = true
}

// Assess classifies a command per spec.md §4.5's abridged rule set.
func Assess(req Request) Decision {
	if req.WithEscalatedPermissions && req.ApprovalPolicy != protocol.ApprovalOnRequest {
		return Decision{
			Outcome: OutcomeReject,
			Reason: fmt.Sprintf(
				"approval policy is %s; reject command — you should not ask for escalated permissions if the approval policy is %s",
				req.ApprovalPolicy, req.ApprovalPolicy,
			),
		}
	}

	if req.SessionApproved[joinedArgv(req.Argv)] {
		return Decision{Outcome: OutcomeAutoApprove, Kind: SandboxNone}
	}

	safe := isKnownSafeReadOnly(req.Argv)
	if safe {
		return Decision{Outcome: OutcomeAutoApprove, Kind: SandboxNone}
	}

	switch req.ApprovalPolicy {
	case protocol.ApprovalNever:
		return Decision{Outcome: OutcomeAutoApprove, Kind: SandboxPlatform}
	case protocol.ApprovalOnRequest:
		return Decision{Outcome: OutcomeAskUser}
	case protocol.ApprovalOnFailure:
		// Speculative: the caller is expected to retry with AskUser if the
		// sandboxed attempt fails.
		return Decision{Outcome: OutcomeAutoApprove, Kind: SandboxPlatform}
	case protocol.ApprovalUnlessTrusted:
		return Decision{Outcome: OutcomeAskUser}
	default:
		return Decision{Outcome: OutcomeAskUser}
	}
}

// isKnownSafeReadOnly reports whether argv is a known read-only invocation
// with no shell-metacharacter escape hatch in its arguments.
func isKnownSafeReadOnly(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	name := argv[0]
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	if !knownSafeReadOnly[name] {
		return false
	}
	if name == "git" && len(argv) > 1 && gitWriteSubcommands[argv[1]] {
		return false
	}
	for _, arg := range argv {
		if shellMetachars.MatchString(arg) {
			return false
		}
	}
	return true
}
