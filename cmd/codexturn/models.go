package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codexturn/codexturn/internal/providers/bedrock"
)

func buildModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect model availability for a provider",
	}
	cmd.AddCommand(buildModelsListCmd())
	return cmd
}

func buildModelsListCmd() *cobra.Command {
	var provider, region string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List models available from a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch provider {
			case "bedrock":
				return listBedrockModels(cmd, region)
			default:
				return fmt.Errorf("codexturn: models list supports --provider bedrock only; got %q", provider)
			}
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "bedrock", "provider to query")
	cmd.Flags().StringVar(&region, "region", "us-east-1", "AWS region, for --provider bedrock")
	return cmd
}

// listBedrockModels prints the foundation models available in region,
// grounded on internal/providers/bedrock.DiscoverModels — the teacher's AWS
// model-catalog helper, unwired in the copied tree until this command.
func listBedrockModels(cmd *cobra.Command, region string) error {
	models, err := bedrock.DiscoverModels(cmd.Context(), &bedrock.DiscoveryConfig{Region: region})
	if err != nil {
		return fmt.Errorf("codexturn: discover bedrock models: %w", err)
	}
	for _, m := range models {
		fmt.Fprintf(cmd.OutOrStdout(), "%-55s %-12s ctx=%-8d max_out=%-8d reasoning=%v\n",
			m.ID, m.Provider, m.ContextWindow, m.MaxTokens, m.Reasoning)
	}
	return nil
}
