package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/copilot-cli/copilot/internal/agent"
)

func agentCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Inspect named agent definitions",
	}
	root.AddCommand(agentListCmd())
	return root
}

func agentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every known agent definition (built-in and user-defined)",
		RunE: func(cmd *cobra.Command, args []string) error {
			wd := resolveWorkDir()
			reg := agent.NewRegistry()
			for _, def := range builtinAgentDefinitions() {
				if err := reg.Register(def); err != nil {
					return err
				}
			}

			loader := agent.NewLoader(filepath.Join(wd, ".copilot", "agents"), reg)
			if err := loader.LoadAll(); err != nil {
				return err
			}

			for _, def := range reg.List() {
				src := def.Source
				if src == "" {
					src = "builtin"
				}
				fmt.Printf("%-20s %-8s %s\n", def.Name, src, def.Description)
			}
			return nil
		},
	}
}

// builtinAgentDefinitions are the agents compiled into the binary, always
// available regardless of what's on disk under .copilot/agents (spec §6:
// "Agent definitions: embedded for built-ins").
func builtinAgentDefinitions() []*agent.Definition {
	defs := []*agent.Definition{
		{
			Name:        "reviewer",
			Description: "Reviews a diff or file for correctness issues without making changes",
			SystemPrompt: "You review code changes for correctness and clarity. You never edit " +
				"files yourself; report findings as a short list.",
			Capabilities: agent.Capabilities{
				AllowedTools:  []string{"read_file", "list_files", "search", "glob"},
				MaxIterations: 15,
			},
			Source: "builtin",
		},
		{
			Name:        "researcher",
			Description: "Answers a question by reading the workspace and the web, read-only",
			SystemPrompt: "You investigate a question using the workspace and web search/fetch " +
				"tools, then answer concisely with sources.",
			Capabilities: agent.Capabilities{
				AllowedTools:  []string{"read_file", "list_files", "search", "glob", "web_search", "web_fetch"},
				MaxIterations: 15,
			},
			Source: "builtin",
		},
	}
	for _, d := range defs {
		d.Capabilities.SetDefaults()
	}
	return defs
}
