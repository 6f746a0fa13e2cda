// Package config defines the copilot's configuration surface, modeled on
// the teacher's internal/config/config.go: a mutex-guarded live struct,
// tolerant JSON decoding for fields that accept more than one shape, and
// env-var overrides for secrets that must never land in the config file.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["a","b"] and a single bare string in
// JSON config, the way hand-edited config files tend to drift.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single == "" {
		*f = nil
	} else {
		*f = []string{single}
	}
	return nil
}

// Config is the root configuration for the copilot binary.
type Config struct {
	Providers ProvidersConfig `json:"providers"`
	Agents    AgentsConfig    `json:"agents"`
	Tools     ToolsConfig     `json:"tools"`
	Database  DatabaseConfig  `json:"database,omitempty"`

	mu sync.RWMutex
}

// DatabaseConfig points at the per-project and per-user SQLite files
// (spec §6 filesystem layout).
type DatabaseConfig struct {
	ConversationsPath string `json:"conversations_path,omitempty"` // ~/.config/<app>/conversations.db
	TasksPath         string `json:"tasks_path,omitempty"`         // <cwd>/.tasks/tasks.db
}

// ProvidersConfig configures the available LM back-ends.
type ProvidersConfig struct {
	Default string                    `json:"default"`
	List    map[string]ProviderConfig `json:"list,omitempty"`
}

// ProviderConfig is one back-end's connection config. APIKey is never
// read from the config file (it is a secret) — only from environment,
// mirroring the teacher's DatabaseConfig.PostgresDSN pattern.
type ProviderConfig struct {
	Kind         string `json:"kind"` // "ollama", "openai_compat", "anthropic"
	BaseURL      string `json:"base_url,omitempty"`
	DefaultModel string `json:"default_model,omitempty"`
	APIKey       string `json:"-"` // from env <PROVIDER>_API_KEY only
}

// AgentsConfig holds default agent capabilities and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults            `json:"defaults"`
	List     map[string]AgentOverride `json:"list,omitempty"`
}

// AgentDefaults mirrors spec §3.4 AgentCapabilities, with an explicit
// MaxIterations (spec Open Question 1: require an explicit value rather
// than guessing between the source's divergent 10/25 defaults).
type AgentDefaults struct {
	Model             string  `json:"model"`
	MaxIterations     int     `json:"max_iterations"`
	Temperature       float64 `json:"temperature"`
	ContextSize       int     `json:"context_size"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	EnableThinking    bool    `json:"enable_thinking"`
	ConversationMode  bool    `json:"conversation_mode"`
}

// AgentOverride customizes one named agent's capabilities/allowed tools.
type AgentOverride struct {
	AllowedTools  FlexibleStringSlice `json:"allowed_tools,omitempty"`
	Model         string              `json:"model,omitempty"`
	MaxIterations int                 `json:"max_iterations,omitempty"`
	ToolPolicy    *ToolPolicySpec     `json:"tool_policy,omitempty"`
}

// ToolsConfig configures the global tool policy profile (spec §4.3
// layered with per-tool policies; this is the static capability/profile
// layer evaluated by tools.PolicyEngine — runtime risk-based approval and
// session grants live in the separate permission manager).
type ToolsConfig struct {
	Profile    string                     `json:"profile,omitempty"` // "minimal", "coding", "full"
	Allow      []string                   `json:"allow,omitempty"`
	Deny       []string                   `json:"deny,omitempty"`
	AlsoAllow  []string                   `json:"also_allow,omitempty"`
	ByProvider map[string]ToolPolicySpec  `json:"by_provider,omitempty"`
}

// ToolPolicySpec is one allow/deny/also-allow layer, used both at the
// global per-provider level (ToolsConfig.ByProvider) and at the per-agent
// level (AgentOverride.ToolPolicy, with its own ByProvider map).
type ToolPolicySpec struct {
	Profile    string                    `json:"profile,omitempty"`
	Allow      []string                  `json:"allow,omitempty"`
	Deny       []string                  `json:"deny,omitempty"`
	AlsoAllow  []string                  `json:"also_allow,omitempty"`
	ByProvider map[string]ToolPolicySpec `json:"by_provider,omitempty"`
}

// IsManagedMode always returns false: SPEC_FULL's core is single-process,
// single-repo (spec §1 Non-goals exclude multi-tenant server operation).
func (c *Config) IsManagedMode() bool { return false }

// RLock/RUnlock expose the read side of the guard. No write-lock
// accessor is exported; the core itself only reads.
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

func (c *Config) Validate() error {
	if c.Providers.Default == "" {
		return fmt.Errorf("providers.default must be set")
	}
	if _, ok := c.Providers.List[c.Providers.Default]; !ok {
		return fmt.Errorf("providers.default %q not found in providers.list", c.Providers.Default)
	}
	return nil
}
