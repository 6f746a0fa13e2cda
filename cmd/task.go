package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/copilot-cli/copilot/internal/config"
	"github.com/copilot-cli/copilot/internal/tasks"
)

// openTaskStore opens the per-project task DB directly, without standing
// up the rest of the runtime — used by every `copilot task` subcommand,
// none of which need a provider or a conversation store.
func openTaskStore(ctx context.Context) (*tasks.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	wd := resolveWorkDir()
	path := cfg.Database.TasksPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(wd, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating tasks dir: %w", err)
	}
	return tasks.Open(ctx, path)
}

func taskCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage the project task DAG",
	}
	root.AddCommand(taskListCmd())
	root.AddCommand(taskReadyCmd())
	root.AddCommand(taskCreateCmd())
	root.AddCommand(taskShowCmd())
	root.AddCommand(taskCompleteCmd())
	root.AddCommand(taskExportCmd())
	root.AddCommand(taskImportCmd())
	return root
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every persisted task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.ListTasks(ctx)
			if err != nil {
				return err
			}
			ready, err := store.ReadyQueue(ctx)
			if err != nil {
				return err
			}
			readySet := make(map[string]bool, len(ready))
			for _, id := range ready {
				readySet[id] = true
			}
			for _, t := range all {
				printTaskLine(t, readySet[t.ID])
			}
			return nil
		},
	}
}

func taskReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List tasks with no unmet blockers, in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ids, err := store.ReadyQueue(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var (
		description string
		priority    int
		taskType    string
		parent      string
		labels      []string
	)
	c := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			t := &tasks.Task{
				Title:       args[0],
				Description: description,
				Priority:    priority,
				Type:        tasks.Type(taskType),
				ParentID:    parent,
				Labels:      labels,
			}
			if err := store.CreateTask(ctx, t); err != nil {
				return err
			}
			fmt.Println(t.ID)
			return nil
		},
	}
	c.Flags().StringVar(&description, "description", "", "task description")
	c.Flags().IntVar(&priority, "priority", 5, "priority, lower runs first")
	c.Flags().StringVar(&taskType, "type", string(tasks.TypeTask), "task, molecule")
	c.Flags().StringVar(&parent, "parent", "", "parent task id")
	c.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable)")
	return c
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task and its blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			printTaskLine(t, t.BlockedByCount == 0)
			if t.Description != "" {
				fmt.Printf("  %s\n", t.Description)
			}

			blockers, err := store.Blockers(ctx, t.ID)
			if err == nil {
				for _, b := range blockers {
					status := "open"
					if b.Completed {
						status = "done"
					}
					fmt.Printf("  blocked by %s (%s) [%s]\n", b.ID, b.Title, status)
				}
			}
			return nil
		},
	}
}

func taskCompleteCmd() *cobra.Command {
	var commit string
	c := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task completed and report newly unblocked tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			unblocked, err := store.CompleteTask(ctx, args[0], commit)
			if err != nil {
				return err
			}
			fmt.Printf("completed %s\n", args[0])
			for _, id := range unblocked {
				fmt.Printf("  unblocked: %s\n", id)
			}
			return nil
		},
	}
	c.Flags().StringVar(&commit, "commit", "", "commit hash the completion corresponds to")
	return c
}

func taskExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Write every task and its dependencies to a JSONL shard file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return store.ExportJSONL(ctx, f)
		},
	}
}

func taskImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Import a JSONL shard file written by export (or an external git-sync collaborator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := openTaskStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.ImportShardFile(ctx, args[0])
		},
	}
}

func printTaskLine(t *tasks.Task, ready bool) {
	flag := " "
	if ready {
		flag = "*"
	}
	labels := ""
	if len(t.Labels) > 0 {
		labels = " [" + strings.Join(t.Labels, ",") + "]"
	}
	fmt.Printf("%s %-8s p%-2s %-12s %s%s\n", flag, t.ID, strconv.Itoa(t.Priority), t.Status, t.Title, labels)
}
