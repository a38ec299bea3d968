// Package config loads the turn engine's on-disk configuration from
// CODEX_HOME/config.toml, layering environment variable overrides on top.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/codexturn/codexturn/pkg/protocol"
)

// ProviderConfig configures one ModelClient backend (internal/modelstream).
type ProviderConfig struct {
	Name            string `toml:"name"`
	Kind            string `toml:"kind"` // "anthropic", "openai", "bedrock", "gemini"
	APIKeyEnv       string `toml:"api_key_env"`
	BaseURL         string `toml:"base_url"`
	DefaultModel    string `toml:"default_model"`
	StreamMaxRetries int   `toml:"stream_max_retries"`
	StreamIdleTimeoutMs int64 `toml:"stream_idle_timeout_ms"`
}

// Config is the root configuration for a codexturn process.
type Config struct {
	CodexHome string `toml:"-"`

	ApprovalPolicy protocol.ApprovalPolicy `toml:"approval_policy"`
	SandboxMode    protocol.SandboxMode    `toml:"sandbox_mode"`
	WritableRoots  []string                `toml:"writable_roots"`
	NetworkAccess  bool                    `toml:"network_access"`

	DefaultProvider string           `toml:"default_provider"`
	Providers       []ProviderConfig `toml:"providers"`

	AutoCompactTokenLimit int64 `toml:"auto_compact_token_limit"`

	// RolloutArchiveS3Bucket, when non-empty, enables archiving flushed
	// rollout segments to S3 (SPEC_FULL.md §4.2.A). Empty disables it.
	RolloutArchiveS3Bucket string `toml:"rollout_archive_s3_bucket"`
	RolloutArchiveS3Region string `toml:"rollout_archive_s3_region"`

	// CompactionCheckInterval is how often the Submission Loop's cron
	// scheduler (internal/submitloop) checks idle sessions for proactive
	// compaction (SPEC_FULL.md domain stack, robfig/cron wiring).
	CompactionCheckInterval time.Duration `toml:"-"`
	CompactionCheckCron     string        `toml:"compaction_check_cron"`
}

// Default returns the built-in defaults used when no config.toml exists.
func Default() *Config {
	return &Config{
		ApprovalPolicy:          protocol.ApprovalOnRequest,
		SandboxMode:             protocol.SandboxWorkspaceWrite,
		NetworkAccess:           false,
		DefaultProvider:         "anthropic",
		AutoCompactTokenLimit:   160_000,
		CompactionCheckCron:     "*/5 * * * *",
		CompactionCheckInterval: 5 * time.Minute,
		Providers: []ProviderConfig{
			{Name: "anthropic", Kind: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY", DefaultModel: "claude-sonnet-4-5", StreamMaxRetries: 3, StreamIdleTimeoutMs: 30_000},
			{Name: "openai", Kind: "openai", APIKeyEnv: "OPENAI_API_KEY", DefaultModel: "gpt-4.1", StreamMaxRetries: 3, StreamIdleTimeoutMs: 30_000},
			{Name: "bedrock", Kind: "bedrock", DefaultModel: "anthropic.claude-3-5-sonnet-20241022-v2:0", StreamMaxRetries: 2, StreamIdleTimeoutMs: 45_000},
			{Name: "gemini", Kind: "gemini", APIKeyEnv: "GOOGLE_API_KEY", DefaultModel: "gemini-2.5-pro", StreamMaxRetries: 3, StreamIdleTimeoutMs: 30_000},
		},
	}
}

// Home resolves CODEX_HOME: the CODEX_HOME env var if set, else
// ~/.codex.
func Home() string {
	if home := strings.TrimSpace(os.Getenv("CODEX_HOME")); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".codex"
	}
	return filepath.Join(dir, ".codex")
}

// Load reads CODEX_HOME/config.toml over the defaults, applies a
// CODEX_HOME/.env file if present, and returns the resolved Config. A
// missing config.toml is not an error; defaults are used.
func Load() (*Config, error) {
	home := Home()
	cfg := Default()
	cfg.CodexHome = home

	_ = godotenv.Load(filepath.Join(home, ".env"))

	path := filepath.Join(home, "config.toml")
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
		cfg.CodexHome = home
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if cfg.CompactionCheckInterval == 0 {
		cfg.CompactionCheckInterval = 5 * time.Minute
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CODEX_APPROVAL_POLICY")); v != "" {
		cfg.ApprovalPolicy = protocol.ApprovalPolicy(v)
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_SANDBOX_MODE")); v != "" {
		cfg.SandboxMode = protocol.SandboxMode(v)
	}
	if v := strings.TrimSpace(os.Getenv("CODEX_AUTO_COMPACT_TOKEN_LIMIT")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.AutoCompactTokenLimit = n
		}
	}
}

// SandboxPolicy builds the protocol.SandboxPolicy described by this config.
func (c *Config) SandboxPolicy() protocol.SandboxPolicy {
	return protocol.SandboxPolicy{
		Mode:          c.SandboxMode,
		WritableRoots: append([]string(nil), c.WritableRoots...),
		NetworkAccess: c.NetworkAccess,
	}
}

// Provider looks up a ProviderConfig by name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
