package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/copilot-cli/copilot/internal/config"
	"github.com/copilot-cli/copilot/internal/tasks"
)

func doctorCmd() *cobra.Command {
	var showMetrics bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			if showMetrics {
				runDoctorMetrics()
				return
			}
			runDoctor()
		},
	}
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "run one throwaway turn-less session and dump its Prometheus metric families")
	return cmd
}

// runDoctorMetrics builds a full runtime just long enough to print the
// metric families its registry gathers, without a scrape endpoint (this
// process never serves /metrics itself). Every metric is label-partitioned
// and appears only once it has recorded a value, so a runtime that has not
// run a turn prints no families.
func runDoctorMetrics() {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		fmt.Printf("doctor --metrics: %v\n", err)
		return
	}
	defer rt.Close()

	families, err := rt.registry.Gather()
	if err != nil {
		fmt.Printf("doctor --metrics: gathering: %v\n", err)
		return
	}
	for _, mf := range families {
		fmt.Println(mf.String())
	}
}

func runDoctor() {
	fmt.Println("copilot doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults — file not found)")
	} else {
		fmt.Println(" (found)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Providers:")
	for name, pc := range cfg.Providers.List {
		status := "no API key"
		if pc.APIKey != "" || pc.Kind == "ollama" {
			status = "configured"
		}
		marker := "  "
		if name == cfg.Providers.Default {
			marker = "* "
		}
		fmt.Printf("    %s%-16s %-8s %s\n", marker, name, pc.Kind, status)
	}

	wd := resolveWorkDir()
	fmt.Println()
	fmt.Println("  Databases:")

	convoPath := config.ExpandHome(cfg.Database.ConversationsPath)
	fmt.Printf("    conversations: %-40s %s\n", convoPath, fileStatus(convoPath))

	tasksPath := cfg.Database.TasksPath
	if !filepath.IsAbs(tasksPath) {
		tasksPath = filepath.Join(wd, tasksPath)
	}
	fmt.Printf("    tasks:         %-40s %s\n", tasksPath, fileStatus(tasksPath))

	if _, err := os.Stat(tasksPath); err == nil {
		ctx := context.Background()
		store, err := tasks.Open(ctx, tasksPath)
		if err != nil {
			fmt.Printf("      open error: %s\n", err)
		} else {
			defer store.Close()
			all, err := store.ListTasks(ctx)
			if err != nil {
				fmt.Printf("      query error: %s\n", err)
			} else {
				ready, _ := store.ReadyQueue(ctx)
				fmt.Printf("      %d tasks, %d ready\n", len(all), len(ready))
			}
		}
	}

	agentsDir := filepath.Join(wd, ".copilot", "agents")
	fmt.Println()
	fmt.Printf("  Agent definitions dir: %s %s\n", agentsDir, fileStatus(agentsDir))
}

func fileStatus(path string) string {
	if _, err := os.Stat(path); err != nil {
		return "(not yet created)"
	}
	return "(ok)"
}
