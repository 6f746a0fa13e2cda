package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Default: "ollama",
			List: map[string]ProviderConfig{
				"ollama": {Kind: "ollama", BaseURL: "http://localhost:11434", DefaultModel: "qwen2.5-coder"},
			},
		},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				MaxIterations:   20,
				Temperature:     0.7,
				ContextSize:     128000,
				MaxOutputTokens: 8192,
			},
		},
		Tools: ToolsConfig{
			Profile: "coding",
		},
		Database: DatabaseConfig{
			ConversationsPath: "~/.config/copilot/conversations.db",
			TasksPath:         "./.tasks/tasks.db",
		},
	}
}

// Load reads config from path (JSON), falling back to defaults for any
// zero-valued top-level section, then applies environment overrides for
// secrets (spec §6: HOME for config dir resolution; provider API keys
// are never persisted to the config file).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnvOverrides(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides fills in provider API keys from environment
// variables named "<PROVIDERNAME>_API_KEY", never from the config file.
func applyEnvOverrides(cfg *Config) {
	for name, pc := range cfg.Providers.List {
		envName := envKeyName(name)
		if v := os.Getenv(envName); v != "" {
			pc.APIKey = v
			cfg.Providers.List[name] = pc
		}
	}
}

func envKeyName(provider string) string {
	upper := make([]byte, 0, len(provider)+8)
	for _, r := range provider {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper = append(upper, byte(r))
	}
	return string(upper) + "_API_KEY"
}

// ConfigDir resolves ~/.config/<app> honoring HOME (spec §6 env vars).
func ConfigDir(appName string) (string, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	return filepath.Join(home, ".config", appName), nil
}

// ExpandHome expands a leading "~" to the HOME directory.
func ExpandHome(path string) string {
	if len(path) >= 1 && path[0] == '~' {
		home := os.Getenv("HOME")
		if home != "" {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
