package agent

import (
	"context"
	"testing"

	"github.com/copilot-cli/copilot/internal/config"
	"github.com/copilot-cli/copilot/internal/providers"
	"github.com/copilot-cli/copilot/internal/tools"
)

// stubTool is a minimal tools.Tool for exercising toolDefs/dispatchTool
// without a real filesystem or shell side effect.
type stubTool struct {
	name string
}

func (s *stubTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{Name: s.name, Parameters: map[string]interface{}{"type": "object"}}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Result, error) {
	return tools.NewResult("ok:" + s.name), nil
}

// stubProvider implements providers.Provider with only Name() exercised
// by toolDefs/dispatchTool; Chat/ChatStream are never reached by these
// two methods directly.
type stubProvider struct{ name string }

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, nil
}
func (p *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return nil, nil
}
func (p *stubProvider) DefaultModel() string { return "stub-model" }
func (p *stubProvider) Name() string         { return p.name }

func newTestRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&stubTool{name: "read_file"})
	reg.Register(&stubTool{name: "exec"})
	reg.Register(&stubTool{name: "edit_file"})
	return reg
}

func TestToolDefs_AllowedToolsMaskWithoutPolicy(t *testing.T) {
	exec := New(Config{
		Provider:     &stubProvider{name: "anthropic"},
		Tools:        newTestRegistry(),
		AllowedTools: []string{"read_file"},
		AgentName:    "reviewer",
	})

	defs := exec.toolDefs()
	if len(defs) != 1 || defs[0].Function.Name != "read_file" {
		t.Fatalf("toolDefs() = %v, want only read_file", defs)
	}
}

func TestToolDefs_NilAllowedToolsIsUnrestricted(t *testing.T) {
	exec := New(Config{
		Provider: &stubProvider{name: "anthropic"},
		Tools:    newTestRegistry(),
	})

	defs := exec.toolDefs()
	if len(defs) != 3 {
		t.Fatalf("toolDefs() returned %d defs, want 3 (unrestricted)", len(defs))
	}
}

func TestToolDefs_PolicyEngineMinimalProfile(t *testing.T) {
	policy := tools.NewPolicyEngine(&config.ToolsConfig{Profile: "minimal"})
	exec := New(Config{
		Provider:  &stubProvider{name: "anthropic"},
		Tools:     newTestRegistry(),
		Policy:    policy,
		AgentName: "main",
	})

	defs := exec.toolDefs()
	names := toolDefNames(defs)
	if names["exec"] {
		t.Errorf("minimal profile should not include exec, got %v", names)
	}
}

func TestToolDefs_PolicyEngineDenyOverridesGlobalAllow(t *testing.T) {
	policy := tools.NewPolicyEngine(&config.ToolsConfig{Deny: []string{"exec"}})
	exec := New(Config{
		Provider:  &stubProvider{name: "anthropic"},
		Tools:     newTestRegistry(),
		Policy:    policy,
		AgentName: "main",
	})

	defs := exec.toolDefs()
	names := toolDefNames(defs)
	if names["exec"] {
		t.Errorf("denied tool exec leaked through FilterTools: %v", names)
	}
	if !names["read_file"] {
		t.Errorf("expected read_file still allowed, got %v", names)
	}
}

func TestDispatchTool_RejectsToolOutsideAllowedMask(t *testing.T) {
	exec := New(Config{
		Provider: &stubProvider{name: "anthropic"},
		Tools:    newTestRegistry(),
	})

	result := exec.dispatchTool(context.Background(), providers.ToolCall{Name: "exec"}, map[string]bool{"read_file": true})
	if !result.IsError {
		t.Fatalf("expected dispatchTool to refuse a tool outside the allowed mask")
	}
}

func TestDispatchTool_NilAllowedMaskPermitsAnyRegisteredTool(t *testing.T) {
	exec := New(Config{
		Provider: &stubProvider{name: "anthropic"},
		Tools:    newTestRegistry(),
	})

	result := exec.dispatchTool(context.Background(), providers.ToolCall{Name: "read_file", Arguments: map[string]interface{}{}}, nil)
	if result.IsError {
		t.Fatalf("unexpected error with nil allowed mask: %s", result.ForLLM)
	}
}

func TestConfigForAgent_ForwardsPolicyAndToolPolicy(t *testing.T) {
	policy := tools.NewPolicyEngine(&config.ToolsConfig{Profile: "coding"})
	base := New(Config{
		Provider: &stubProvider{name: "anthropic"},
		Tools:    newTestRegistry(),
		Policy:   policy,
		Model:    "default-model",
	})

	def := &Definition{
		Name:         "reviewer",
		SystemPrompt: "review",
		Capabilities: Capabilities{AllowedTools: []string{"read_file"}},
		ToolPolicy:   &config.ToolPolicySpec{Allow: []string{"read_file"}},
	}

	derived := base.ConfigForAgent(def)
	if derived.Policy != policy {
		t.Errorf("ConfigForAgent did not forward the PolicyEngine")
	}
	if derived.ToolPolicy != def.ToolPolicy {
		t.Errorf("ConfigForAgent did not forward the agent's ToolPolicy")
	}
	if derived.Permissions != nil {
		t.Errorf("named-agent dispatch must never carry Permissions (capability-mask mode only)")
	}
}
