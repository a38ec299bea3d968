// Package main provides the CLI entry point for codexturn, an Agent Turn
// Engine (spec.md §1): a Session (C9) driven by the Submission Loop (C10)
// over one conversation, dispatching tool calls through the Tool Registry &
// Dispatcher (C3) and streaming model output through the Stream Protocol
// Driver (C7).
//
// # Basic Usage
//
// Start a new conversation:
//
//	codexturn run
//
// Resume a prior rollout:
//
//	codexturn resume ~/.codex/sessions/2026/07/30/rollout-...jsonl
//
// Fork a prior rollout into a new conversation:
//
//	codexturn fork ~/.codex/sessions/2026/07/30/rollout-...jsonl
//
// List models available from a configured provider:
//
//	codexturn models list --provider bedrock
//
// # Environment Variables
//
//   - CODEX_HOME: root directory for config.toml, history.jsonl, and
//     rollout files (default ~/.codex)
//   - CODEX_LOG: structured logger level (default "info")
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: provider API keys
//   - CODEX_APPROVAL_POLICY, CODEX_SANDBOX_MODE, CODEX_AUTO_COMPACT_TOKEN_LIMIT
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codexturn",
		Short: "Agent Turn Engine CLI",
		Long:  "codexturn drives a Session through the Submission Loop from a terminal, streaming model output and dispatching tool calls.",
	}
	cmd.AddCommand(buildRunCmd(), buildResumeCmd(), buildForkCmd(), buildModelsCmd(), buildUsageCmd())
	return cmd
}
