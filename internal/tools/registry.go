// Package tools implements the builtin tool registry, the static
// capability/profile policy layer (policy.go, grounded on the teacher's
// internal/tools/policy.go), and the interactive risk-based permission
// manager (spec §4.3) layered on top of it.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/copilot-cli/copilot/internal/providers"
)

// RiskLevel classifies a tool for the permission manager (spec §3.2).
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskSensitive
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskSafe:
		return "safe"
	case RiskSensitive:
		return "sensitive"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Scope identifies what a tool invocation would touch — a path for
// filesystem tools, a command name for exec, or empty for tools without
// a meaningful scope. The permission manager keys session grants on
// (tool name, scope) so approving "read_file" for "/repo/README.md"
// doesn't implicitly approve "/repo/.env".
type Scope = string

// ToolMetadata is the static description every builtin tool registers.
type ToolMetadata struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON Schema
	Risk        RiskLevel
}

// Tool is the interface every builtin tool implements.
type Tool interface {
	Metadata() ToolMetadata
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// ScopeExtractor is implemented by tools whose invocation has a
// meaningful scope for permission-grant purposes (spec §4.3 glob-based
// path scoping). Tools that don't implement it are scoped by tool name
// alone.
type ScopeExtractor interface {
	Scope(args map[string]interface{}) Scope
}

// Registry holds a set of tools by name: the main session's builtins
// registered at startup, or a sub-agent's restricted set.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register installs a tool, replacing any existing tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Metadata().Name] = t
}

// Unregister removes a tool (applyDenyList uses it to strip a sub-agent's
// registry).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get looks up a tool by canonical name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool name, sorted for deterministic
// policy evaluation and test output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderDefs returns the ToolDefinition wire shape for every registered
// tool, unfiltered. Callers that need policy filtering go through
// PolicyEngine.FilterTools instead.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, ToProviderDef(r.tools[name]))
	}
	return defs
}

// ToProviderDef converts a tool's metadata into the LM wire format.
func ToProviderDef(t Tool) providers.ToolDefinition {
	md := t.Metadata()
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        md.Name,
			Description: md.Description,
			Parameters:  md.Parameters,
		},
	}
}

// Execute runs a tool by name with no permission gating — used by the
// sub-agent executor, whose capability mask (allowed_tools) is its sole
// authorization boundary (spec §4.2).
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tools: unknown tool %q", name)
	}
	return t.Execute(ctx, args)
}

// ScopeFor returns the permission-grant scope for a tool invocation,
// empty string if the tool doesn't implement ScopeExtractor.
func ScopeFor(t Tool, args map[string]interface{}) Scope {
	if se, ok := t.(ScopeExtractor); ok {
		return se.Scope(args)
	}
	return ""
}
