package turnloop

import (
	"testing"

	"github.com/codexturn/codexturn/internal/toolhub"
	"github.com/codexturn/codexturn/pkg/protocol"
)

func TestFilterToolsHonorsConfigFlags(t *testing.T) {
	reg := toolhub.NewRegistry()
	reg.Register(toolhub.Spec{Name: "github__list_issues"})
	reg.Register(toolhub.Spec{Name: "jira__create_ticket"})

	cfg := protocol.ToolsConfig{
		Shell:       true,
		UpdatePlan:  true,
		ExecCommand: true,
		McpServers:  []string{"github"},
	}

	got := filterTools(reg, cfg)
	names := map[string]bool{}
	for _, s := range got {
		names[s.Name] = true
	}

	for _, want := range []string{toolhub.ToolShell, toolhub.ToolUpdatePlan, toolhub.ToolExecCommand, toolhub.ToolWriteStdin, "github__list_issues"} {
		if !names[want] {
			t.Errorf("filterTools result %v missing %q", names, want)
		}
	}
	for _, unwanted := range []string{toolhub.ToolContainerExec, toolhub.ToolApplyPatch, toolhub.ToolViewImage, toolhub.ToolUnifiedExec, "jira__create_ticket"} {
		if names[unwanted] {
			t.Errorf("filterTools result %v should not include %q", names, unwanted)
		}
	}
}

func TestFilterToolsNilRegistry(t *testing.T) {
	if got := filterTools(nil, protocol.ToolsConfig{Shell: true}); got != nil {
		t.Errorf("filterTools(nil, ...) = %v, want nil", got)
	}
}

func TestMcpServerOf(t *testing.T) {
	cases := []struct {
		name       string
		wantServer string
		wantOK     bool
	}{
		{"github__list_issues", "github", true},
		{"shell", "", false},
		{"__broken", "", false},
		{"trailing__", "", false},
	}
	for _, c := range cases {
		server, ok := mcpServerOf(c.name)
		if server != c.wantServer || ok != c.wantOK {
			t.Errorf("mcpServerOf(%q) = (%q, %v), want (%q, %v)", c.name, server, ok, c.wantServer, c.wantOK)
		}
	}
}
