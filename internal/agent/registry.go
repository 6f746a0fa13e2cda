package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/copilot-cli/copilot/internal/config"
)

// Capabilities is the per-agent execution profile (spec §3.4
// AgentCapabilities) — everything about how an agent runs that isn't the
// prompt itself.
type Capabilities struct {
	AllowedTools     []string `yaml:"allowed_tools"`
	MaxIterations    int      `yaml:"max_iterations"` // 0 = unbounded
	ModelOverride    string   `yaml:"model_override"`
	Temperature      float64  `yaml:"temperature"`
	ContextSize      int      `yaml:"context_size"`
	MaxOutputTokens  int      `yaml:"max_output_tokens"`
	EnableThinking   bool     `yaml:"enable_thinking"`
	ResponseFormat   string   `yaml:"response_format"`
	ConversationMode bool     `yaml:"conversation_mode"`
}

// SetDefaults fills in zero-value fields with the defaults a bare
// definition (e.g. a built-in with only a prompt and a tool list) should
// get.
func (c *Capabilities) SetDefaults() {
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = 8192
	}
}

// Definition is one named agent: the prompt, its capability profile, and
// where it came from (for `/agents` modal display and reload).
type Definition struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	SystemPrompt string       `yaml:"-"` // markdown body, not front matter
	Capabilities Capabilities `yaml:"capabilities"`

	// ToolPolicy is this agent's per-agent override layer for
	// tools.PolicyEngine (config.AgentOverride.ToolPolicy's in-memory
	// counterpart) — nil for an agent with no config-level tool policy, in
	// which case the engine's global profile/allow/deny still applies.
	ToolPolicy *config.ToolPolicySpec `yaml:"-"`

	// Source distinguishes a compiled-in agent from one loaded off disk —
	// surfaced in the agent-builder modal so a user can tell which
	// definitions are editable.
	Source     string // "builtin" or the absolute path it was loaded from
	ModifiedAt int64  // unix seconds, for hot-reload change detection; 0 for builtins
}

// Validate rejects a definition the executor couldn't run.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("agent definition missing name")
	}
	if d.SystemPrompt == "" {
		return fmt.Errorf("agent %q has no system prompt", d.Name)
	}
	if d.Capabilities.MaxIterations < 0 {
		return fmt.Errorf("agent %q: max_iterations must be >= 0", d.Name)
	}
	return nil
}

// Registry holds every agent definition known to the process: compiled-in
// built-ins registered at startup plus user-defined agents discovered
// under the configured agents directory (spec §6, loader.go). It is
// consulted by `/<agent_name>` dispatch and by the `/agents` modal.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Definition)}
}

// Register installs or replaces a definition. Used both at startup (for
// built-ins) and by the loader's hot-reload watch (for user-defined
// agents whose file changed).
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[def.Name] = def
	return nil
}

// Unregister removes a definition, used when a user-defined agent's file
// is deleted out from under the watch.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Get looks up an agent by name, the lookup behind `/<agent_name>`.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// List returns every known agent, sorted by name, for the `/agents` modal.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
