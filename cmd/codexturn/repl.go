package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/codexturn/codexturn/internal/config"
	"github.com/codexturn/codexturn/internal/session"
	"github.com/codexturn/codexturn/internal/submitloop"
	"github.com/codexturn/codexturn/pkg/protocol"
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a new conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), session.NewConversation())
		},
	}
}

func buildResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <rollout-path>",
		Short: "Resume a prior conversation from its rollout file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), session.Resumed(args[0]))
		},
	}
}

func buildForkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fork <rollout-path>",
		Short: "Start a new conversation seeded from a prior rollout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd.Context(), session.Forked(args[0]))
		},
	}
}

// pendingApproval tracks the one outstanding approval request a user's next
// input line answers, letting a single stdin reader serve both plain turn
// input and approval decisions without two goroutines racing on os.Stdin.
type pendingApproval struct {
	subID string
	kind  string // "exec" or "patch"
}

// runREPL wires a Session (C9) to the Submission Loop (C10), drives it from
// stdin, and prints streamed events to stdout until the user quits or an
// interrupt signal arrives (spec.md §4.9/§4.10).
func runREPL(ctx context.Context, initial session.InitialHistory) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("codexturn: load config: %w", err)
	}

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	sess, err := session.New(deps, initial)
	if err != nil {
		return fmt.Errorf("codexturn: start session: %w", err)
	}

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	go func() {
		if err := submitloop.Run(loopCtx, sess, submitloop.Options{
			CompactionCron:       cfg.CompactionCheckCron,
			CompactionTokenLimit: cfg.AutoCompactTokenLimit,
		}); err != nil {
			fmt.Fprintln(os.Stderr, "submission loop:", err)
		}
	}()

	lines := make(chan string)
	go scanLines(lines)

	go func() {
		<-ctx.Done()
		sess.Submit(protocol.Op{Kind: protocol.OpShutdown})
	}()

	driveIO(ctx, sess, lines)
	return nil
}

// driveIO is the REPL's single consumer of stdin: it prints every Session
// event and, once an approval request arrives, routes the next typed line
// to NotifyApproval instead of submitting it as user input.
func driveIO(ctx context.Context, sess *session.Session, lines <-chan string) {
	var approval *pendingApproval
	prompt := func() {
		if approval != nil {
			fmt.Printf("%s approval [y/N]: ", approval.kind)
		} else {
			fmt.Print("> ")
		}
	}
	prompt()

	events := make(chan protocol.Event)
	go func() {
		defer close(events)
		for {
			ev, err := sess.NextEvent(context.Background())
			if err != nil {
				return
			}
			events <- ev
			if ev.Kind == protocol.EventShutdownComplete {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case protocol.EventAgentMessageDelta:
				fmt.Print(ev.Text)
			case protocol.EventAgentMessage:
				fmt.Println()
			case protocol.EventTaskComplete:
				prompt()
			case protocol.EventTokenCount:
				printTokenUsage(sess.TurnContext().Model, ev.TokenUsage)
			case protocol.EventExecApprovalRequest:
				approval = &pendingApproval{subID: ev.SubID, kind: "exec"}
				fmt.Printf("\n[approval] run %v?\n", ev.ProposedCommand)
				prompt()
			case protocol.EventApplyPatchApprovalRequest:
				approval = &pendingApproval{subID: ev.SubID, kind: "patch"}
				fmt.Printf("\n[approval] apply patch (reason: %s)?\n", ev.Reason)
				prompt()
			case protocol.EventError, protocol.EventStreamError:
				fmt.Fprintf(os.Stderr, "\n[error] %s\n", ev.Message)
			case protocol.EventTurnAborted:
				fmt.Printf("\n[aborted: %s]\n", ev.AbortReason)
				prompt()
			case protocol.EventShutdownComplete:
				return
			}

		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case approval != nil:
				decision := protocol.DecisionDenied
				if line == "y" || line == "Y" || line == "yes" {
					decision = protocol.DecisionApproved
				}
				opKind := protocol.OpExecApproval
				if approval.kind == "patch" {
					opKind = protocol.OpPatchApproval
				}
				sess.Submit(protocol.Op{Kind: opKind, ApprovalSubID: approval.subID, Decision: decision})
				approval = nil
				prompt()
			case line == "":
				prompt()
			case line == "/quit" || line == "/exit":
				sess.Submit(protocol.Op{Kind: protocol.OpShutdown})
			default:
				if ctx.Err() == nil {
					sess.Submit(protocol.Op{Kind: protocol.OpUserInput, Items: []protocol.InputItem{{Text: line}}})
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// scanLines feeds lines into ch until stdin closes, letting driveIO select
// on stdin alongside Session events without blocking on either exclusively.
func scanLines(ch chan<- string) {
	defer close(ch)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		ch <- scanner.Text()
	}
}
