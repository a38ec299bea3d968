package turnloop

import (
	"strings"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

// filterTools renders the Spec list offered to the model for one turn,
// restricted to what cfg enables (spec.md §3's ToolsConfig). Web search is
// a provider-native flag rather than a toolhub.Spec, so cfg.WebSearch has
// no entry here; it belongs to Prompt construction at the provider adapter
// level, not the tool list.
func filterTools(reg *toolhub.Registry, cfg protocol.ToolsConfig) []toolhub.Spec {
	if reg == nil {
		return nil
	}

	allowed := map[string]bool{}
	if cfg.Shell {
		allowed[toolhub.ToolShell] = true
		allowed[toolhub.ToolContainerExec] = true
	}
	if cfg.ApplyPatch {
		allowed[toolhub.ToolApplyPatch] = true
	}
	if cfg.UpdatePlan {
		allowed[toolhub.ToolUpdatePlan] = true
	}
	if cfg.ViewImage {
		allowed[toolhub.ToolViewImage] = true
	}
	if cfg.ExecCommand {
		allowed[toolhub.ToolExecCommand] = true
		allowed[toolhub.ToolWriteStdin] = true
	}
	if cfg.UnifiedExec {
		allowed[toolhub.ToolUnifiedExec] = true
	}

	mcpServers := map[string]bool{}
	for _, s := range cfg.McpServers {
		mcpServers[s] = true
	}

	var out []toolhub.Spec
	for _, spec := range reg.List() {
		if allowed[spec.Name] {
			out = append(out, spec)
			continue
		}
		if server, ok := mcpServerOf(spec.Name); ok && mcpServers[server] {
			out = append(out, spec)
		}
	}
	return out
}

// mcpServerOf splits a "server__tool" registered name, mirroring
// toolhub.Dispatcher's own splitMCPName (unexported there; MCP tools are
// the only dynamically namespaced kind, so this small duplication is
// cheaper than exporting a helper solely for this one caller).
func mcpServerOf(name string) (server string, ok bool) {
	idx := strings.Index(name, "__")
	if idx <= 0 || idx >= len(name)-2 {
		return "", false
	}
	return name[:idx], true
}
