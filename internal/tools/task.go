package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copilot-cli/copilot/internal/tasks"
)

// Task tools are the LM-facing surface onto the task DAG (spec: "Tasks
// manipulated by tools go through C6/C7") — every mutation here is a thin
// argument-translation layer over tasks.Store; the DAG invariants (cycle
// detection, blocked_by_count, ready-queue ordering) live there, not here.

func taskToJSON(t *tasks.Task) map[string]interface{} {
	out := map[string]interface{}{
		"id":               t.ID,
		"title":            t.Title,
		"description":      t.Description,
		"status":           string(t.Status),
		"priority":         t.Priority,
		"task_type":        string(t.Type),
		"labels":           t.Labels,
		"blocked_by_count": t.BlockedByCount,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
	}
	if t.ParentID != "" {
		out["parent_id"] = t.ParentID
	}
	if t.CompletedAt != nil {
		out["completed_at"] = *t.CompletedAt
	}
	if len(t.Comments) > 0 {
		type commentEntry struct {
			Agent     string `json:"agent"`
			Content   string `json:"content"`
			Timestamp string `json:"timestamp"`
		}
		comments := make([]commentEntry, len(t.Comments))
		for i, c := range t.Comments {
			comments[i] = commentEntry{Agent: c.Agent, Content: c.Content, Timestamp: c.Timestamp.Format("2006-01-02T15:04:05Z07:00")}
		}
		out["comments"] = comments
	}
	return out
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ============================================================
// task_create
// ============================================================

type TaskCreateTool struct {
	store *tasks.Store
}

func NewTaskCreateTool(store *tasks.Store) *TaskCreateTool {
	return &TaskCreateTool{store: store}
}

func (t *TaskCreateTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_create",
		Description: "Create a task or molecule in the project's task graph.",
		Risk:        RiskSensitive,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"title":       map[string]interface{}{"type": "string", "description": "Short task title"},
				"description": map[string]interface{}{"type": "string", "description": "Task description"},
				"priority":    map[string]interface{}{"type": "number", "description": "Lower is higher priority (default 0)"},
				"task_type":   map[string]interface{}{"type": "string", "enum": []string{"task", "molecule"}, "description": "Defaults to task"},
				"parent_id":   map[string]interface{}{"type": "string", "description": "Optional parent task id"},
				"labels":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			},
			"required": []string{"title"},
		},
	}
}

func (t *TaskCreateTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	title, _ := args["title"].(string)
	if title == "" {
		return ErrorResult("title is required"), nil
	}

	task := &tasks.Task{
		Title:       title,
		ParentID:    stringArg(args, "parent_id"),
		Description: stringArg(args, "description"),
		Labels:      stringSlice(args["labels"]),
	}
	if v, ok := args["priority"].(float64); ok {
		task.Priority = int(v)
	}
	if v := stringArg(args, "task_type"); v == string(tasks.TypeMolecule) {
		task.Type = tasks.TypeMolecule
	}

	if err := t.store.CreateTask(ctx, task); err != nil {
		return ErrorResult(fmt.Sprintf("create task: %v", err)), nil
	}
	out, _ := json.Marshal(taskToJSON(task))
	return NewResult(string(out)), nil
}

// ============================================================
// task_get
// ============================================================

type TaskGetTool struct {
	store *tasks.Store
}

func NewTaskGetTool(store *tasks.Store) *TaskGetTool {
	return &TaskGetTool{store: store}
}

func (t *TaskGetTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_get",
		Description: "Fetch one task by id, including its comments and blocked-by count.",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			"required":   []string{"id"},
		},
	}
}

func (t *TaskGetTool) Scope(args map[string]interface{}) Scope {
	return Scope(stringArg(args, "id"))
}

func (t *TaskGetTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	id := stringArg(args, "id")
	if id == "" {
		return ErrorResult("id is required"), nil
	}
	task, err := t.store.GetTask(ctx, id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get task %s: %v", id, err)), nil
	}

	blockers, err := t.store.Blockers(ctx, id)
	if err != nil {
		return ErrorResult(fmt.Sprintf("load blockers for %s: %v", id, err)), nil
	}
	payload := taskToJSON(task)
	payload["blockers"] = blockers

	out, _ := json.Marshal(payload)
	return SilentResult(string(out)), nil
}

// ============================================================
// task_list
// ============================================================

type TaskListTool struct {
	store *tasks.Store
}

func NewTaskListTool(store *tasks.Store) *TaskListTool {
	return &TaskListTool{store: store}
}

func (t *TaskListTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_list",
		Description: "List tasks in the project's task graph, optionally filtered by status, or only the ready queue.",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status":     map[string]interface{}{"type": "string", "description": "Filter to one status"},
				"ready_only": map[string]interface{}{"type": "boolean", "description": "Only list tasks with blocked_by_count == 0 and status pending, ordered for dispatch"},
			},
		},
	}
}

func (t *TaskListTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if ready, _ := args["ready_only"].(bool); ready {
		ids, err := t.store.ReadyQueue(ctx)
		if err != nil {
			return ErrorResult(fmt.Sprintf("ready queue: %v", err)), nil
		}
		out, _ := json.Marshal(map[string]interface{}{"ready": ids, "count": len(ids)})
		return SilentResult(string(out)), nil
	}

	all, err := t.store.ListTasks(ctx)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list tasks: %v", err)), nil
	}

	statusFilter := stringArg(args, "status")
	entries := make([]map[string]interface{}, 0, len(all))
	for _, task := range all {
		if statusFilter != "" && string(task.Status) != statusFilter {
			continue
		}
		entries = append(entries, taskToJSON(task))
	}

	out, _ := json.Marshal(map[string]interface{}{"tasks": entries, "count": len(entries)})
	return SilentResult(string(out)), nil
}

// ============================================================
// task_update
// ============================================================

// taskUpdateFields are the subset of tasks.Store.UpdateTask's allowed keys
// exposed to the model. parent_id and started_at_commit are not exposed;
// completed_at_commit is set only through the commit argument when status
// becomes completed (CompleteTask).
var taskUpdateFields = []string{"status", "priority", "title", "description", "labels"}

type TaskUpdateTool struct {
	store *tasks.Store
}

func NewTaskUpdateTool(store *tasks.Store) *TaskUpdateTool {
	return &TaskUpdateTool{store: store}
}

func (t *TaskUpdateTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_update",
		Description: "Update one or more fields of an existing task. Setting status to completed recomputes which tasks it newly unblocks.",
		Risk:        RiskSensitive,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":          map[string]interface{}{"type": "string"},
				"status":      map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed", "blocked", "cancelled"}},
				"priority":    map[string]interface{}{"type": "number"},
				"title":       map[string]interface{}{"type": "string"},
				"description": map[string]interface{}{"type": "string"},
				"labels":      map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"commit":      map[string]interface{}{"type": "string", "description": "Commit hash to record when setting status to completed"},
			},
			"required": []string{"id"},
		},
	}
}

func (t *TaskUpdateTool) Scope(args map[string]interface{}) Scope {
	return Scope(stringArg(args, "id"))
}

func (t *TaskUpdateTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	id := stringArg(args, "id")
	if id == "" {
		return ErrorResult("id is required"), nil
	}

	if status := stringArg(args, "status"); status == string(tasks.StatusCompleted) {
		unblocked, err := t.store.CompleteTask(ctx, id, stringArg(args, "commit"))
		if err != nil {
			return ErrorResult(fmt.Sprintf("complete task %s: %v", id, err)), nil
		}
		out, _ := json.Marshal(map[string]interface{}{"id": id, "status": "completed", "newly_unblocked": unblocked})
		return NewResult(string(out)), nil
	}

	updates := map[string]interface{}{}
	for _, field := range taskUpdateFields {
		v, present := args[field]
		if !present {
			continue
		}
		if field == "priority" {
			if f, ok := v.(float64); ok {
				updates[field] = int(f)
			}
			continue
		}
		if field == "labels" {
			updates[field] = stringSlice(v)
			continue
		}
		updates[field] = v
	}
	if len(updates) == 0 {
		return ErrorResult("no recognized fields to update"), nil
	}

	if err := t.store.UpdateTask(ctx, id, updates); err != nil {
		return ErrorResult(fmt.Sprintf("update task %s: %v", id, err)), nil
	}
	out, _ := json.Marshal(map[string]interface{}{"id": id, "updated": updates})
	return NewResult(string(out)), nil
}

// ============================================================
// task_claim
// ============================================================

// TaskClaimTool moves a task to in_progress, records which session claimed
// it as a comment, and sets it as the session's current task — there is
// no separate "assignee" column in the schema (spec §3.3 names no such
// field), so claiming is this status transition plus an audit comment.
// The claiming session comes from tool-call context (tool_session_key),
// not a fixed field, since one tool instance is shared by every session.
type TaskClaimTool struct {
	store *tasks.Store
}

func NewTaskClaimTool(store *tasks.Store) *TaskClaimTool {
	return &TaskClaimTool{store: store}
}

func (t *TaskClaimTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_claim",
		Description: "Claim a ready task: sets status to in_progress, records the claim, and makes it the current task.",
		Risk:        RiskSensitive,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
			"required":   []string{"id"},
		},
	}
}

func (t *TaskClaimTool) Scope(args map[string]interface{}) Scope {
	return Scope(stringArg(args, "id"))
}

func (t *TaskClaimTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	id := stringArg(args, "id")
	if id == "" {
		return ErrorResult("id is required"), nil
	}

	if err := t.store.UpdateTask(ctx, id, map[string]interface{}{"status": string(tasks.StatusInProgress)}); err != nil {
		return ErrorResult(fmt.Sprintf("claim task %s: %v", id, err)), nil
	}

	agent := claimingSession(ctx)
	if err := t.store.AddComment(ctx, id, agent, "claimed"); err != nil {
		return ErrorResult(fmt.Sprintf("claim task %s: recording comment: %v", id, err)), nil
	}
	if err := t.store.SetCurrentTask(ctx, id); err != nil {
		return ErrorResult(fmt.Sprintf("claim task %s: setting current task: %v", id, err)), nil
	}

	out, _ := json.Marshal(map[string]interface{}{"id": id, "status": "in_progress", "claimed_by": agent})
	return NewResult(string(out)), nil
}

// ============================================================
// task_comment
// ============================================================

type TaskCommentTool struct {
	store *tasks.Store
}

func NewTaskCommentTool(store *tasks.Store) *TaskCommentTool {
	return &TaskCommentTool{store: store}
}

func (t *TaskCommentTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "task_comment",
		Description: "Append a comment to a task's audit trail.",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":      map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []string{"id", "content"},
		},
	}
}

func (t *TaskCommentTool) Scope(args map[string]interface{}) Scope {
	return Scope(stringArg(args, "id"))
}

func (t *TaskCommentTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	id := stringArg(args, "id")
	content := stringArg(args, "content")
	if id == "" || content == "" {
		return ErrorResult("id and content are required"), nil
	}

	if err := t.store.AddComment(ctx, id, claimingSession(ctx), content); err != nil {
		return ErrorResult(fmt.Sprintf("comment on task %s: %v", id, err)), nil
	}
	out, _ := json.Marshal(map[string]interface{}{"id": id, "commented": true})
	return NewResult(string(out)), nil
}

// claimingSession resolves the session attributed to a task mutation from
// tool-call context, falling back to "main" when none is set (e.g. a test
// calling the tool directly without going through the executor).
func claimingSession(ctx context.Context) string {
	if key := ToolSessionKeyFromCtx(ctx); key != "" {
		return key
	}
	return "main"
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}
