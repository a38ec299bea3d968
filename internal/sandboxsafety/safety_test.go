package sandboxsafety

import (
	"testing"

	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestAssessKnownSafeReadOnlyAutoApproves(t *testing.T) {
	d := Assess(Request{
		Argv:           []string{"ls", "-la"},
		ApprovalPolicy: protocol.ApprovalOnRequest,
	})
	if d.Outcome != OutcomeAutoApprove || d.Kind != SandboxNone {
		t.Fatalf("ls -la: got %+v, want AutoApprove{None}", d)
	}
}

func TestAssessShellMetacharEscapeHatchDisqualifiesKnownSafe(t *testing.T) {
	d := Assess(Request{
		Argv:           []string{"find", ".", "-exec", "sh -c 'rm -rf $HOME'", ";"},
		ApprovalPolicy: protocol.ApprovalOnRequest,
	})
	if d.Outcome != OutcomeAskUser {
		t.Fatalf("find with embedded shell metachars: got %+v, want AskUser", d)
	}
}

func TestAssessGitWriteSubcommandIsNotKnownSafe(t *testing.T) {
	d := Assess(Request{
		Argv:           []string{"git", "commit", "-m", "wip"},
		ApprovalPolicy: protocol.ApprovalOnRequest,
	})
	if d.Outcome != OutcomeAskUser {
		t.Fatalf("git commit: got %+v, want AskUser", d)
	}
}

func TestAssessNeverPolicyAutoApprovesUnderPlatformSandbox(t *testing.T) {
	d := Assess(Request{
		Argv:           []string{"npm", "install"},
		ApprovalPolicy: protocol.ApprovalNever,
	})
	if d.Outcome != OutcomeAutoApprove || d.Kind != SandboxPlatform {
		t.Fatalf("never policy: got %+v, want AutoApprove{Platform}", d)
	}
}

func TestAssessOnFailureIsSpeculativeAutoApprove(t *testing.T) {
	d := Assess(Request{
		Argv:           []string{"npm", "test"},
		ApprovalPolicy: protocol.ApprovalOnFailure,
	})
	if d.Outcome != OutcomeAutoApprove || d.Kind != SandboxPlatform {
		t.Fatalf("on-failure policy: got %+v, want AutoApprove{Platform}", d)
	}
}

func TestAssessUnlessTrustedAsksUnlessSessionApproved(t *testing.T) {
	argv := []string{"npm", "run", "build"}
	d := Assess(Request{Argv: argv, ApprovalPolicy: protocol.ApprovalUnlessTrusted})
	if d.Outcome != OutcomeAskUser {
		t.Fatalf("unless-trusted, not yet approved: got %+v, want AskUser", d)
	}

	approved := map[string]bool{}
	RememberApproved(approved, argv)
	d = Assess(Request{Argv: argv, ApprovalPolicy: protocol.ApprovalUnlessTrusted, SessionApproved: approved})
	if d.Outcome != OutcomeAutoApprove || d.Kind != SandboxNone {
		t.Fatalf("unless-trusted, session approved: got %+v, want AutoApprove{None}", d)
	}
}

func TestAssessEscalatedPermissionsRejectedOutsideOnRequest(t *testing.T) {
	d := Assess(Request{
		Argv:                     []string{"rm", "-rf", "/tmp/x"},
		ApprovalPolicy:           protocol.ApprovalNever,
		WithEscalatedPermissions: true,
	})
	if d.Outcome != OutcomeReject {
		t.Fatalf("escalated permissions under never policy: got %+v, want Reject", d)
	}
	want := "approval policy is never; reject command — you should not ask for escalated permissions if the approval policy is never"
	if d.Reason != want {
		t.Errorf("Reason = %q, want %q", d.Reason, want)
	}
}

func TestAssessEscalatedPermissionsAllowedUnderOnRequest(t *testing.T) {
	d := Assess(Request{
		Argv:                     []string{"rm", "-rf", "/tmp/x"},
		ApprovalPolicy:           protocol.ApprovalOnRequest,
		WithEscalatedPermissions: true,
	})
	if d.Outcome != OutcomeAskUser {
		t.Fatalf("escalated permissions under on-request: got %+v, want AskUser", d)
	}
}
