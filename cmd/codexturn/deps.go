package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codexturn/codexturn/internal/codexlog"
	"github.com/codexturn/codexturn/internal/config"
	"github.com/codexturn/codexturn/internal/mcp"
	"github.com/codexturn/codexturn/internal/modelstream"
	"github.com/codexturn/codexturn/internal/modelstream/providers"
	"github.com/codexturn/codexturn/internal/rollout"
	"github.com/codexturn/codexturn/internal/session"
	"github.com/codexturn/codexturn/internal/toolhub"
)

// buildDeps assembles a session.Deps from the resolved Config: one
// modelstream.ModelClient per configured provider with an API key present,
// an MCP manager if CODEX_HOME/mcp.json lists any servers, and an S3
// rollout archiver if RolloutArchiveS3Bucket is set.
func buildDeps(ctx context.Context, cfg *config.Config) (session.Deps, error) {
	clients, err := buildClients(ctx, cfg)
	if err != nil {
		return session.Deps{}, err
	}
	if len(clients) == 0 {
		return session.Deps{}, fmt.Errorf("codexturn: no model provider has an API key configured")
	}
	defaultClient := cfg.DefaultProvider
	if _, ok := clients[defaultClient]; !ok {
		for name := range clients {
			defaultClient = name
			break
		}
	}

	mh, err := session.OpenMessageHistory(cfg.CodexHome)
	if err != nil {
		return session.Deps{}, fmt.Errorf("codexturn: open message history: %w", err)
	}

	var archiver rollout.Archiver
	if cfg.RolloutArchiveS3Bucket != "" {
		archiver, err = rollout.NewS3Archiver(ctx, cfg.RolloutArchiveS3Bucket, cfg.RolloutArchiveS3Region, "")
		if err != nil {
			return session.Deps{}, fmt.Errorf("codexturn: configure S3 rollout archiver: %w", err)
		}
	}

	var defaultModel string
	if p, ok := cfg.Provider(defaultClient); ok {
		defaultModel = p.DefaultModel
	}

	return session.Deps{
		CodexHome:             cfg.CodexHome,
		Clients:               clients,
		DefaultModelClient:    defaultClient,
		Registry:              toolhub.NewRegistry(),
		MCP:                   buildMCPCaller(ctx, cfg.CodexHome),
		Archiver:              archiver,
		DefaultApprovalPolicy: cfg.ApprovalPolicy,
		DefaultSandboxPolicy:  cfg.SandboxPolicy(),
		DefaultModel:          defaultModel,
		AutoCompactTokenLimit: cfg.AutoCompactTokenLimit,
		MessageHistory:        mh,
	}, nil
}

func buildClients(ctx context.Context, cfg *config.Config) (map[string]modelstream.ModelClient, error) {
	clients := map[string]modelstream.ModelClient{}
	for _, p := range cfg.Providers {
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
			if apiKey == "" {
				continue
			}
		}

		switch p.Kind {
		case "anthropic":
			c, err := providers.NewAnthropicClient(providers.AnthropicConfig{
				APIKey: apiKey, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel, MaxRetries: p.StreamMaxRetries,
			})
			if err != nil {
				return nil, fmt.Errorf("codexturn: anthropic client: %w", err)
			}
			clients[p.Name] = c

		case "openai":
			c, err := providers.NewOpenAIClient(providers.OpenAIConfig{
				APIKey: apiKey, BaseURL: p.BaseURL, DefaultModel: p.DefaultModel, MaxRetries: p.StreamMaxRetries,
			})
			if err != nil {
				return nil, fmt.Errorf("codexturn: openai client: %w", err)
			}
			clients[p.Name] = c

		case "bedrock":
			c, err := providers.NewBedrockClient(ctx, providers.BedrockConfig{
				DefaultModel: p.DefaultModel, MaxRetries: p.StreamMaxRetries,
			})
			if err != nil {
				codexlog.For("cmd/codexturn").Warn().Err(err).Msg("skipping bedrock provider")
				continue
			}
			clients[p.Name] = c

		case "gemini":
			if apiKey == "" {
				continue
			}
			c, err := providers.NewGeminiClient(ctx, providers.GeminiConfig{
				APIKey: apiKey, DefaultModel: p.DefaultModel, MaxRetries: p.StreamMaxRetries,
			})
			if err != nil {
				return nil, fmt.Errorf("codexturn: gemini client: %w", err)
			}
			clients[p.Name] = c

		default:
			codexlog.For("cmd/codexturn").Warn().Str("kind", p.Kind).Msg("unknown provider kind")
		}
	}
	return clients, nil
}

// buildMCPCaller loads CODEX_HOME/mcp.json (a []*mcp.ServerConfig array) if
// present and returns a toolhub.MCPCaller wrapping a started Manager. A
// missing or empty file disables MCP tool dispatch entirely (deps.MCP=nil).
func buildMCPCaller(ctx context.Context, codeHome string) toolhub.MCPCaller {
	log := codexlog.For("cmd/codexturn")
	path := filepath.Join(codeHome, "mcp.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var servers []*mcp.ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to parse mcp.json")
		return nil
	}
	if len(servers) == 0 {
		return nil
	}

	manager := mcp.NewManager(&mcp.Config{Enabled: true, Servers: servers}, nil)
	if err := manager.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to start one or more MCP servers")
	}
	return mcp.NewToolhubCaller(manager)
}
