package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copilot-cli/copilot/internal/agent"
	"github.com/copilot-cli/copilot/internal/config"
	"github.com/copilot-cli/copilot/internal/convo"
	"github.com/copilot-cli/copilot/internal/coordinator"
	"github.com/copilot-cli/copilot/internal/logging"
	"github.com/copilot-cli/copilot/internal/metrics"
	"github.com/copilot-cli/copilot/internal/providers"
	"github.com/copilot-cli/copilot/internal/tasks"
	"github.com/copilot-cli/copilot/internal/tools"
)

// runtime bundles every long-lived component the repl and the
// subcommands (task, agent) share, built once from config at process
// startup (spec §6 filesystem layout: conversations.db, per-project
// tasks.db, agent definitions on disk).
type runtime struct {
	cfg        *config.Config
	workDir    string
	provider   providers.Provider
	toolsReg   *tools.Registry
	perms      *tools.PermissionManager
	convoStore *convo.Store
	view       *convo.View
	taskStore  *tasks.Store
	agents     *agent.Registry
	loader     *agent.Loader
	coord      *coordinator.Coordinator
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	wispSweep  *tasks.WispScheduler
}

// wispSweepSpec and wispMaxAge govern how long a wisp (an ephemeral,
// never-persisted task — spec §3.3) survives before the scheduler
// promotes it into a durable task so it isn't lost when the process
// exits. Every 5 minutes, 30 minutes stale; the 30 minutes equals the
// scheduler's own default for a zero maxAge (the sweep spec has none).
const (
	wispSweepSpec = "*/5 * * * *"
	wispMaxAge    = 30 * time.Minute
)

func buildRuntime(ctx context.Context) (*runtime, error) {
	logging.Init(logging.Options{Verbose: verbose})

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	wd := resolveWorkDir()

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metricsHandle := metrics.New(promReg)

	toolsReg := tools.NewRegistry()
	registerBuiltinTools(toolsReg, wd)

	auditPath := filepath.Join(wd, ".tasks", "audit.jsonl")
	audit, err := tools.NewAuditLog(auditPath, 200)
	if err != nil {
		slog.Warn("repl: audit log unavailable, continuing without persistence", "error", err)
		audit, _ = tools.NewAuditLog("", 200)
	}
	perms := tools.NewPermissionManager(consoleAsk, audit)

	convoPath := config.ExpandHome(cfg.Database.ConversationsPath)
	if err := os.MkdirAll(filepath.Dir(convoPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating conversations dir: %w", err)
	}
	convoStore, err := convo.Open(ctx, convoPath)
	if err != nil {
		return nil, fmt.Errorf("opening conversation db: %w", err)
	}

	view := convo.NewView(convoStore, coordinator.MainSessionKey, 200)
	if err := view.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrating conversation view: %w", err)
	}

	tasksPath := cfg.Database.TasksPath
	if !filepath.IsAbs(tasksPath) {
		tasksPath = filepath.Join(wd, tasksPath)
	}
	if err := os.MkdirAll(filepath.Dir(tasksPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating tasks dir: %w", err)
	}
	taskStore, err := tasks.Open(ctx, tasksPath)
	if err != nil {
		return nil, fmt.Errorf("opening task db: %w", err)
	}

	toolsReg.Register(tools.NewSessionsListTool(convoStore))
	toolsReg.Register(tools.NewSessionsHistoryTool(convoStore))
	toolsReg.Register(tools.NewSessionsSendTool(convoStore))

	toolsReg.Register(tools.NewTaskCreateTool(taskStore))
	toolsReg.Register(tools.NewTaskGetTool(taskStore))
	toolsReg.Register(tools.NewTaskListTool(taskStore))
	toolsReg.Register(tools.NewTaskUpdateTool(taskStore))
	toolsReg.Register(tools.NewTaskClaimTool(taskStore))
	toolsReg.Register(tools.NewTaskCommentTool(taskStore))

	agents := agent.NewRegistry()
	for _, def := range builtinAgentDefinitions() {
		if err := agents.Register(def); err != nil {
			slog.Warn("repl: registering builtin agent", "agent", def.Name, "error", err)
		}
	}
	agentsDir := filepath.Join(wd, ".copilot", "agents")
	loader := agent.NewLoader(agentsDir, agents)
	if err := loader.LoadAll(); err != nil {
		slog.Warn("repl: loading agent definitions", "error", err)
	}
	if err := loader.Watch(); err != nil {
		slog.Warn("repl: watching agent definitions directory", "error", err)
	}
	applyAgentOverrides(agents, cfg.Agents.List)

	policyEngine := tools.NewPolicyEngine(&cfg.Tools)

	mainExec := agent.New(agent.Config{
		Provider:         provider,
		Model:            cfg.Agents.Defaults.Model,
		MaxIterations:    cfg.Agents.Defaults.MaxIterations,
		ConversationMode: true,
		ThinkingLevel:    thinkingLevelFor(cfg.Agents.Defaults.EnableThinking),
		Tools:            toolsReg,
		Permissions:      perms,
		Policy:           policyEngine,
		Convo:            convoStore,
		AgentName:        "main",
		Metrics:          metricsHandle,
	})

	coord := coordinator.New(mainExec, agents, convoStore, view)
	coord.MainSystemPrompt = mainSystemPrompt
	coord.OnAgentOutput = func(name string, result *agent.AgentResult) {
		fmt.Printf("\n[%s] %s\n", name, result.Content)
	}

	subagentMgr := tools.NewSubagentManager(provider, cfg.Agents.Defaults.Model, func() *tools.Registry {
		sub := tools.NewRegistry()
		registerBuiltinTools(sub, wd)
		sub.Register(tools.NewTaskCreateTool(taskStore))
		sub.Register(tools.NewTaskGetTool(taskStore))
		sub.Register(tools.NewTaskListTool(taskStore))
		sub.Register(tools.NewTaskUpdateTool(taskStore))
		sub.Register(tools.NewTaskClaimTool(taskStore))
		sub.Register(tools.NewTaskCommentTool(taskStore))
		return sub
	}, tools.DefaultSubagentConfig())
	toolsReg.Register(tools.NewSessionsSpawnTool(subagentMgr, func(ctx context.Context, parentID string, result *tools.Result) {
		coord.RecordSubagentOutput(ctx, parentID, result.ForLLM)
	}))
	toolsReg.Register(tools.NewSubagentsTool(subagentMgr))

	wispSweep, err := tasks.NewWispScheduler(taskStore, wispSweepSpec, wispMaxAge)
	if err != nil {
		slog.Warn("repl: wisp scheduler disabled", "error", err)
	} else {
		wispSweep.Start()
	}

	return &runtime{
		cfg: cfg, workDir: wd, provider: provider, toolsReg: toolsReg, perms: perms,
		convoStore: convoStore, view: view, taskStore: taskStore, agents: agents,
		loader: loader, coord: coord, metrics: metricsHandle, registry: promReg,
		wispSweep: wispSweep,
	}, nil
}

// applyAgentOverrides layers config.Agents.List onto already-registered
// definitions (spec §3.4's per-agent override: a user narrows or loosens
// a named agent's capability mask and tool policy without editing the
// agent's own prompt file).
func applyAgentOverrides(agents *agent.Registry, overrides map[string]config.AgentOverride) {
	for name, ov := range overrides {
		def, ok := agents.Get(name)
		if !ok {
			slog.Warn("repl: tool_policy override names an unknown agent", "agent", name)
			continue
		}
		if len(ov.AllowedTools) > 0 {
			def.Capabilities.AllowedTools = []string(ov.AllowedTools)
		}
		if ov.Model != "" {
			def.Capabilities.ModelOverride = ov.Model
		}
		if ov.MaxIterations != 0 {
			def.Capabilities.MaxIterations = ov.MaxIterations
		}
		if ov.ToolPolicy != nil {
			def.ToolPolicy = ov.ToolPolicy
		}
	}
}

const mainSystemPrompt = "You are a terminal coding copilot with access to the project's " +
	"filesystem, shell, web, and a task DAG. Use tools to investigate before answering, " +
	"and prefer making changes over describing them when the user asks for an edit."

func (rt *runtime) Close() {
	if rt.wispSweep != nil {
		rt.wispSweep.Stop()
	}
	if rt.loader != nil {
		rt.loader.Close()
	}
	if rt.taskStore != nil {
		rt.taskStore.Close()
	}
	if rt.convoStore != nil {
		rt.convoStore.Close()
	}
}

func thinkingLevelFor(enabled bool) string {
	if enabled {
		return "medium"
	}
	return "off"
}

// buildProvider selects the configured default provider. Only the
// back-ends the teacher's own config already describes are wired here;
// adding another provider is a config entry plus a constructor call, not
// a core-loop change.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.Providers.Default
	pc, ok := cfg.Providers.List[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found in config", name)
	}
	switch pc.Kind {
	case "anthropic":
		return providers.NewAnthropicProvider(pc.APIKey), nil
	case "openai_compat":
		return providers.NewOpenAIProvider(name, pc.APIKey, pc.BaseURL, pc.DefaultModel), nil
	case "ollama":
		return providers.NewOllamaProvider(pc.BaseURL, pc.DefaultModel), nil
	case "dashscope":
		return providers.NewDashScopeProvider(pc.APIKey, pc.BaseURL, pc.DefaultModel), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", name, pc.Kind)
	}
}

// consoleAsk is the permission manager's AskFunc for the plain-REPL front
// end: print the request and read one line from stdin (spec §6's
// 1/2/3/4 permission prompt, condensed to y/n/a/d for a line-oriented
// terminal rather than a modal).
func consoleAsk(ctx context.Context, md tools.ToolMetadata, scope tools.Scope) (tools.Decision, error) {
	fmt.Printf("\nPermission requested: %s", md.Name)
	if scope != "" {
		fmt.Printf(" (%s)", scope)
	}
	fmt.Print("\n  [y]es once  [a]lways  [n]o/[d]eny: ")

	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "a", "always":
		return tools.Decision{Approved: true, Remember: true}, nil
	case "y", "yes", "":
		return tools.Decision{Approved: true}, nil
	default:
		return tools.Decision{Approved: false}, nil
	}
}

// runRepl is the line-oriented front end that drives the Coordinator
// (spec §6's TUI layout itself is out of scope; this is the minimal
// reader/submit loop that exercises the same entry points a real
// terminal UI would call).
func runRepl() error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Println("copilot — type /quit to exit, /<agent> [task] to run a named agent.")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == coordinator.QuitToken {
			return nil
		}

		result, err := rt.coord.Submit(ctx, input)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if result == nil {
			continue // queued behind in-flight activity
		}
		if result.Thinking != "" && verbose {
			fmt.Printf("(thinking) %s\n", result.Thinking)
		}
		fmt.Println(result.Content)

		if rt.coord.Quit() {
			return nil
		}
	}
}
