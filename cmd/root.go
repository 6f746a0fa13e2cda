package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/copilot-cli/copilot/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "copilot — terminal coding-copilot agent orchestrator",
	Long: "copilot runs a single interactive terminal session that turns a language model\n" +
		"into a coding copilot: a policy-gated tool registry, a task DAG, named\n" +
		"sub-agents, and a persisted, virtualized conversation history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepl()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $COPILOT_CONFIG, else ./config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "project directory (default: current directory)")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("copilot %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("COPILOT_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

func resolveWorkDir() string {
	if workDir != "" {
		return workDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
