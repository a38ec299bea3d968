package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/codexturn/codexturn/internal/models"
	"github.com/codexturn/codexturn/internal/usage"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func buildUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect token usage and provider billing",
	}
	cmd.AddCommand(buildUsageReportCmd())
	return cmd
}

// buildUsageReportCmd queries each provider's own billing API for its
// current usage, grounded on internal/usage.ProviderUsageFetcher — the
// teacher's per-provider cost-report client, unwired in the copied tree
// until this command.
func buildUsageReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Fetch account-level usage and cost from each configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := usage.NewUsageFetcherRegistry()
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				registry.Register(&usage.AnthropicUsageFetcher{APIKey: key, HTTPClient: http.DefaultClient})
			}
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				registry.Register(&usage.OpenAIUsageFetcher{APIKey: key, HTTPClient: http.DefaultClient})
			}
			if len(registry.Providers()) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no provider API keys configured")
				return nil
			}

			for _, report := range registry.FetchAll(cmd.Context()) {
				if report.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s error: %s\n", report.Provider, report.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s tokens=%-10d cost=%s\n",
					report.Provider, report.TotalTokens, usage.FormatUSD(report.TotalCostUSD))
			}
			return nil
		},
	}
}

// printTokenUsage renders a TokenCount event's running total, converting
// protocol.TokenUsageInfo into the teacher's usage.Usage/usage.Cost shapes
// so the CLI reports the same $-estimate format internal/usage already
// defines, priced from internal/models' built-in catalog when the current
// model is recognized.
func printTokenUsage(modelID string, info *protocol.TokenUsageInfo) {
	if info == nil {
		return
	}
	total := toUsagePkg(info.Total)
	line := usage.FormatUsage(total)

	if m, ok := models.Get(modelID); ok && (m.InputPrice > 0 || m.OutputPrice > 0) {
		cost := usage.Cost{Input: m.InputPrice, Output: m.OutputPrice}
		line = fmt.Sprintf("%s (%s)", line, usage.FormatUSD(cost.Estimate(total)))
	}
	fmt.Printf("\n[tokens] %s\n", line)
}

func toUsagePkg(u protocol.TokenUsage) *usage.Usage {
	return &usage.Usage{
		InputTokens:     u.Input,
		OutputTokens:    u.Output,
		CacheReadTokens: u.CachedInput,
	}
}
