package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/copilot-cli/copilot/internal/tasks"
)

func newTestTaskStore(t *testing.T) *tasks.Store {
	t.Helper()
	store, err := tasks.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("tasks.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTaskCreateTool(t *testing.T) {
	store := newTestTaskStore(t)
	tool := NewTaskCreateTool(store)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"title":       "write the parser",
		"description": "handle the trailing comma case",
		"priority":    float64(2),
		"labels":      []interface{}{"backend", "parser"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.ForLLM)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(result.ForLLM), &payload); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if payload["title"] != "write the parser" {
		t.Errorf("title = %v, want %q", payload["title"], "write the parser")
	}
	if payload["status"] != "pending" {
		t.Errorf("status = %v, want pending", payload["status"])
	}
	if payload["id"] == "" || payload["id"] == nil {
		t.Errorf("expected a non-empty id")
	}
}

func TestTaskCreateTool_RequiresTitle(t *testing.T) {
	store := newTestTaskStore(t)
	tool := NewTaskCreateTool(store)

	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result for a missing title")
	}
}

func TestTaskGetAndListTools(t *testing.T) {
	store := newTestTaskStore(t)
	create := NewTaskCreateTool(store)
	get := NewTaskGetTool(store)
	list := NewTaskListTool(store)

	created, err := create.Execute(context.Background(), map[string]interface{}{"title": "ship it"})
	if err != nil {
		t.Fatalf("Execute create: %v", err)
	}
	var createdPayload map[string]interface{}
	if err := json.Unmarshal([]byte(created.ForLLM), &createdPayload); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	id := createdPayload["id"].(string)

	got, err := get.Execute(context.Background(), map[string]interface{}{"id": id})
	if err != nil {
		t.Fatalf("Execute get: %v", err)
	}
	if got.IsError {
		t.Fatalf("unexpected error: %s", got.ForLLM)
	}
	var gotPayload map[string]interface{}
	if err := json.Unmarshal([]byte(got.ForLLM), &gotPayload); err != nil {
		t.Fatalf("unmarshal get: %v", err)
	}
	if gotPayload["id"] != id {
		t.Errorf("get id = %v, want %v", gotPayload["id"], id)
	}
	if _, ok := gotPayload["blockers"]; !ok {
		t.Errorf("expected a blockers field in task_get's payload")
	}

	listed, err := list.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute list: %v", err)
	}
	var listPayload map[string]interface{}
	if err := json.Unmarshal([]byte(listed.ForLLM), &listPayload); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if listPayload["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", listPayload["count"])
	}

	readyOnly, err := list.Execute(context.Background(), map[string]interface{}{"ready_only": true})
	if err != nil {
		t.Fatalf("Execute ready-only list: %v", err)
	}
	var readyPayload map[string]interface{}
	if err := json.Unmarshal([]byte(readyOnly.ForLLM), &readyPayload); err != nil {
		t.Fatalf("unmarshal ready list: %v", err)
	}
	ready := readyPayload["ready"].([]interface{})
	if len(ready) != 1 || ready[0] != id {
		t.Errorf("ready queue = %v, want [%v]", ready, id)
	}
}

func TestTaskUpdateTool(t *testing.T) {
	store := newTestTaskStore(t)
	create := NewTaskCreateTool(store)
	update := NewTaskUpdateTool(store)

	created, _ := create.Execute(context.Background(), map[string]interface{}{"title": "refactor"})
	var createdPayload map[string]interface{}
	json.Unmarshal([]byte(created.ForLLM), &createdPayload)
	id := createdPayload["id"].(string)

	result, err := update.Execute(context.Background(), map[string]interface{}{
		"id":          id,
		"description": "now with more detail",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}

	get := NewTaskGetTool(store)
	after, _ := get.Execute(context.Background(), map[string]interface{}{"id": id})
	var afterPayload map[string]interface{}
	json.Unmarshal([]byte(after.ForLLM), &afterPayload)
	if afterPayload["description"] != "now with more detail" {
		t.Errorf("description = %v, want updated value", afterPayload["description"])
	}
}

func TestTaskUpdateTool_CompletingUnblocksDependents(t *testing.T) {
	store := newTestTaskStore(t)
	create := NewTaskCreateTool(store)
	update := NewTaskUpdateTool(store)

	blocker, _ := create.Execute(context.Background(), map[string]interface{}{"title": "blocker"})
	var blockerPayload map[string]interface{}
	json.Unmarshal([]byte(blocker.ForLLM), &blockerPayload)
	blockerID := blockerPayload["id"].(string)

	dependent, _ := create.Execute(context.Background(), map[string]interface{}{"title": "dependent"})
	var dependentPayload map[string]interface{}
	json.Unmarshal([]byte(dependent.ForLLM), &dependentPayload)
	dependentID := dependentPayload["id"].(string)

	if err := store.AddDependency(context.Background(), tasks.Dependency{
		SrcID: blockerID, DstID: dependentID, DepType: tasks.DepBlocks,
	}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	result, err := update.Execute(context.Background(), map[string]interface{}{
		"id": blockerID, "status": "completed", "commit": "deadbeef",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	var payload map[string]interface{}
	json.Unmarshal([]byte(result.ForLLM), &payload)
	unblocked := payload["newly_unblocked"].([]interface{})
	if len(unblocked) != 1 || unblocked[0] != dependentID {
		t.Errorf("newly_unblocked = %v, want [%v]", unblocked, dependentID)
	}
}

func TestTaskUpdateTool_RejectsUnknownFields(t *testing.T) {
	store := newTestTaskStore(t)
	create := NewTaskCreateTool(store)
	update := NewTaskUpdateTool(store)

	created, _ := create.Execute(context.Background(), map[string]interface{}{"title": "task"})
	var createdPayload map[string]interface{}
	json.Unmarshal([]byte(created.ForLLM), &createdPayload)
	id := createdPayload["id"].(string)

	// parent_id is deliberately not in taskUpdateFields: the model can't
	// reparent a task directly.
	result, err := update.Execute(context.Background(), map[string]interface{}{
		"id": id, "parent_id": "some-other-task",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected an error result when no recognized fields are given")
	}
}

func TestTaskClaimAndCommentTools(t *testing.T) {
	store := newTestTaskStore(t)
	create := NewTaskCreateTool(store)
	claim := NewTaskClaimTool(store)
	comment := NewTaskCommentTool(store)
	get := NewTaskGetTool(store)

	created, _ := create.Execute(context.Background(), map[string]interface{}{"title": "pick this up"})
	var createdPayload map[string]interface{}
	json.Unmarshal([]byte(created.ForLLM), &createdPayload)
	id := createdPayload["id"].(string)

	ctx := WithToolSessionKey(context.Background(), "agent:researcher")

	claimResult, err := claim.Execute(ctx, map[string]interface{}{"id": id})
	if err != nil {
		t.Fatalf("Execute claim: %v", err)
	}
	if claimResult.IsError {
		t.Fatalf("unexpected error: %s", claimResult.ForLLM)
	}
	var claimPayload map[string]interface{}
	json.Unmarshal([]byte(claimResult.ForLLM), &claimPayload)
	if claimPayload["claimed_by"] != "agent:researcher" {
		t.Errorf("claimed_by = %v, want agent:researcher", claimPayload["claimed_by"])
	}
	if claimPayload["status"] != "in_progress" {
		t.Errorf("status = %v, want in_progress", claimPayload["status"])
	}

	if _, err := comment.Execute(ctx, map[string]interface{}{"id": id, "content": "halfway done"}); err != nil {
		t.Fatalf("Execute comment: %v", err)
	}

	after, _ := get.Execute(context.Background(), map[string]interface{}{"id": id})
	var afterPayload map[string]interface{}
	json.Unmarshal([]byte(after.ForLLM), &afterPayload)
	comments := afterPayload["comments"].([]interface{})
	if len(comments) != 2 { // the claim's own "claimed" comment, then ours
		t.Fatalf("comments = %v, want 2 entries", comments)
	}
	last := comments[1].(map[string]interface{})
	if last["content"] != "halfway done" || last["agent"] != "agent:researcher" {
		t.Errorf("last comment = %v, want content=halfway done agent=agent:researcher", last)
	}
}

func TestClaimingSession_DefaultsToMain(t *testing.T) {
	if got := claimingSession(context.Background()); got != "main" {
		t.Errorf("claimingSession with no context key = %q, want %q", got, "main")
	}
}
