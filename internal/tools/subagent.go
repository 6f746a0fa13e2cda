// Subagents run a restricted tool loop in a background goroutine, spec
// §4.2: depth-limited, concurrency-limited, and denied the tools that
// would let them further delegate or message sibling sessions — their
// capability mask is their entire authorization boundary, since they
// never go through the interactive PermissionManager.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copilot-cli/copilot/internal/providers"
)

// SubagentConfig configures the subagent system.
type SubagentConfig struct {
	MaxConcurrent       int    // max concurrent subagents (default 8)
	MaxSpawnDepth       int    // max nesting depth (default 1)
	MaxChildrenPerAgent int    // max children per parent (default 5)
	ArchiveAfterMinutes int    // default 60; not read by SubagentManager, completed tasks are never removed
	Model               string // model override for subagents (empty = inherit)
}

func DefaultSubagentConfig() SubagentConfig {
	return SubagentConfig{
		MaxConcurrent:       8,
		MaxSpawnDepth:       1,
		MaxChildrenPerAgent: 5,
		ArchiveAfterMinutes: 60,
	}
}

const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// SubagentTask tracks a running or completed subagent.
type SubagentTask struct {
	ID          string
	ParentID    string
	Task        string
	Label       string
	Status      string
	Result      string
	Depth       int
	Model       string
	CreatedAt   int64
	CompletedAt int64
	cancelFunc  context.CancelFunc
}

// AsyncCallback is invoked with the subagent's final result once its
// loop exits, so the parent can fold it back into its own transcript.
type AsyncCallback func(ctx context.Context, result *Result)

// SubagentManager manages the lifecycle of spawned subagents.
type SubagentManager struct {
	mu       sync.RWMutex
	tasks    map[string]*SubagentTask
	config   SubagentConfig
	provider providers.Provider
	model    string

	// createTools builds a tool registry for subagents (without the
	// sessions_send/sessions_spawn tools — see subagentDenyList).
	createTools func() *Registry
}

func NewSubagentManager(
	provider providers.Provider,
	model string,
	createTools func() *Registry,
	cfg SubagentConfig,
) *SubagentManager {
	return &SubagentManager{
		tasks:       make(map[string]*SubagentTask),
		config:      cfg,
		provider:    provider,
		model:       model,
		createTools: createTools,
	}
}

func (sm *SubagentManager) CountRunningForParent(parentID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	count := 0
	for _, t := range sm.tasks {
		if t.ParentID == parentID && t.Status == TaskStatusRunning {
			count++
		}
	}
	return count
}

// Spawn creates a new subagent task that runs asynchronously. Returns
// immediately with a status message; the subagent runs in a goroutine
// and reports back through callback when it finishes.
func (sm *SubagentManager) Spawn(
	ctx context.Context,
	parentID string,
	depth int,
	task, label, modelOverride string,
	callback AsyncCallback,
) (string, error) {
	sm.mu.Lock()

	if depth >= sm.config.MaxSpawnDepth+1 {
		sm.mu.Unlock()
		return "", fmt.Errorf("spawn depth limit reached (%d/%d)", depth, sm.config.MaxSpawnDepth)
	}

	running := 0
	for _, t := range sm.tasks {
		if t.Status == TaskStatusRunning {
			running++
		}
	}
	if running >= sm.config.MaxConcurrent {
		sm.mu.Unlock()
		return "", fmt.Errorf("max concurrent subagents reached (%d/%d)", running, sm.config.MaxConcurrent)
	}

	childCount := 0
	for _, t := range sm.tasks {
		if t.ParentID == parentID {
			childCount++
		}
	}
	if childCount >= sm.config.MaxChildrenPerAgent {
		sm.mu.Unlock()
		return "", fmt.Errorf("max children per agent reached (%d/%d)", childCount, sm.config.MaxChildrenPerAgent)
	}

	id := uuid.NewString()
	if label == "" {
		label = truncate(task, 50)
	}

	subTask := &SubagentTask{
		ID:        id,
		ParentID:  parentID,
		Task:      task,
		Label:     label,
		Status:    TaskStatusRunning,
		Depth:     depth + 1,
		Model:     modelOverride,
		CreatedAt: time.Now().UnixMilli(),
	}
	taskCtx, taskCancel := context.WithCancel(ctx)
	subTask.cancelFunc = taskCancel

	sm.tasks[id] = subTask
	sm.mu.Unlock()

	slog.Info("subagent spawned", "id", id, "parent", parentID, "depth", subTask.Depth, "label", label)

	go sm.runTask(taskCtx, subTask, callback)

	return fmt.Sprintf("spawned subagent %q (id=%s, depth=%d) for task: %s",
		label, id, subTask.Depth, truncate(task, 100)), nil
}

// Cancel stops a running subagent task, if it exists and is running.
func (sm *SubagentManager) Cancel(id string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	t, ok := sm.tasks[id]
	if !ok || t.Status != TaskStatusRunning {
		return false
	}
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
	return true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// ============================================================
// sessions_spawn
// ============================================================

// SessionsSpawnTool is the model-facing tool that dispatches to
// SubagentManager.Spawn. It is included in subagentDenyList (policy.go),
// so applyDenyList removes it from every sub-agent's registry and only
// the main session spawns.
type SessionsSpawnTool struct {
	manager  *SubagentManager
	onResult func(ctx context.Context, parentID string, result *Result)
}

func NewSessionsSpawnTool(manager *SubagentManager, onResult func(ctx context.Context, parentID string, result *Result)) *SessionsSpawnTool {
	return &SessionsSpawnTool{manager: manager, onResult: onResult}
}

func (t *SessionsSpawnTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "sessions_spawn",
		Description: "Spawn a sub-agent to work a task in the background, with a restricted tool set.",
		Risk:        RiskSensitive,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"task":  map[string]interface{}{"type": "string", "description": "The task for the sub-agent to complete"},
				"label": map[string]interface{}{"type": "string", "description": "Short label identifying this sub-agent"},
				"model": map[string]interface{}{"type": "string", "description": "Optional model override for this sub-agent"},
			},
			"required": []string{"task"},
		},
	}
}

func (t *SessionsSpawnTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	task, _ := args["task"].(string)
	if task == "" {
		return ErrorResult("task is required"), nil
	}
	label, _ := args["label"].(string)
	model, _ := args["model"].(string)

	parentID := ToolSessionKeyFromCtx(ctx)
	depth := ToolDepthFromCtx(ctx)

	var callback AsyncCallback
	if t.onResult != nil {
		callback = func(ctx context.Context, result *Result) {
			t.onResult(ctx, parentID, result)
		}
	}

	msg, err := t.manager.Spawn(ctx, parentID, depth, task, label, model, callback)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return NewResult(msg), nil
}

// ============================================================
// subagents (status listing)
// ============================================================

// SubagentsTool reports the status of every running and finished
// sub-agent spawned from this session.
type SubagentsTool struct {
	manager *SubagentManager
}

func NewSubagentsTool(manager *SubagentManager) *SubagentsTool {
	return &SubagentsTool{manager: manager}
}

func (t *SubagentsTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "subagents",
		Description: "List sub-agents spawned from the current session and their status.",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

func (t *SubagentsTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	parentID := ToolSessionKeyFromCtx(ctx)

	t.manager.mu.RLock()
	defer t.manager.mu.RUnlock()

	var lines []string
	for _, task := range t.manager.tasks {
		if parentID != "" && task.ParentID != parentID {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (id=%s, depth=%d): %s", task.Status, task.Label, task.ID, task.Depth, truncate(task.Result, 200)))
	}
	if len(lines) == 0 {
		return SilentResult("no sub-agents"), nil
	}

	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return SilentResult(out), nil
}
