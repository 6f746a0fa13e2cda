package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the facade spec §4.4 describes as "a thin cache over
// authoritative SQLite state": it owns the session identity and an
// in-memory list of ephemeral wisp tasks (never persisted, per spec
// §3.3), and otherwise delegates straight through to the DB for anything
// durable.
type Store struct {
	db *DB

	mu      sync.Mutex
	session SessionState
	wisps   map[string]*Task
}

// Open opens (creating if needed) the task database at path and
// restores or creates the session-state row.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, wisps: make(map[string]*Task)}
	if err := s.restoreOrCreateSession(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	// 8-byte identifier, short hex (spec §3.3).
	u := uuid.New()
	return fmt.Sprintf("%x", u[:8])
}

// --- session state ---

func (s *Store) restoreOrCreateSession(ctx context.Context) error {
	var st SessionState
	var currentTaskID sql.NullString
	err := s.db.q().QueryRowContext(ctx,
		`SELECT session_id, current_task_id, started_at FROM session_state WHERE id = 1`,
	).Scan(&st.SessionID, &currentTaskID, &st.StartedAt)

	if err == sql.ErrNoRows {
		st = SessionState{SessionID: uuid.NewString(), StartedAt: time.Now()}
		_, err := s.db.q().ExecContext(ctx,
			`INSERT INTO session_state (id, session_id, current_task_id, started_at) VALUES (1, ?, NULL, ?)`,
			st.SessionID, st.StartedAt,
		)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.session = st
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	if currentTaskID.Valid {
		// Opportunistically validate the referenced task still exists
		// (spec §4.4); if it was deleted, clear the pointer rather than
		// surface a dangling reference.
		var exists int
		checkErr := s.db.q().QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, currentTaskID.String).Scan(&exists)
		if checkErr == nil {
			st.CurrentTaskID = currentTaskID.String
		}
	}

	s.mu.Lock()
	s.session = st
	s.mu.Unlock()
	return nil
}

// SessionState returns the current session identity and focused task.
func (s *Store) SessionState() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetCurrentTask updates the session's focused task and persists it.
func (s *Store) SetCurrentTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	s.session.CurrentTaskID = taskID
	sessionID := s.session.SessionID
	s.mu.Unlock()

	_, err := s.db.q().ExecContext(ctx,
		`UPDATE session_state SET current_task_id = ? WHERE id = 1 AND session_id = ?`,
		nullString(taskID), sessionID,
	)
	return err
}

// --- CRUD ---

// CreateTask inserts a task (type `task` or `molecule`; wisps go through
// CreateWisp instead and never reach this path).
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.Type == TypeWisp {
		return ErrWispNotPersistable
	}
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Type == "" {
		t.Type = TypeTask
	}
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now

	labels, err := marshalLabels(t.Labels)
	if err != nil {
		return err
	}

	_, err = s.db.q().ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, task_type, labels, parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.Status, t.Priority, t.Type, labels, nullString(t.ParentID), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask loads one task along with its derived blocked_by_count and
// comment history.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	if t, ok := s.getWisp(id); ok {
		return t, nil
	}

	row := s.db.q().QueryRowContext(ctx, `
		SELECT id, title, description, status, priority, task_type, labels, parent_id,
		       created_at, updated_at, completed_at, started_at_commit, completed_at_commit
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	count, err := blockedByCount(ctx, s.db.q(), id)
	if err != nil {
		return nil, err
	}
	t.BlockedByCount = count

	comments, err := s.listComments(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Comments = comments
	return t, nil
}

// ListTasks returns every persisted task (wisps excluded, since they
// never touch SQLite), ordered by priority then creation time — the same
// ordering the ready-queue uses, so listing and dispatch agree.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.q().QueryContext(ctx, `SELECT id FROM tasks ORDER BY priority ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func scanTask(row *sql.Row) (*Task, error) {
	var t Task
	var labels string
	var parentID, startedCommit, completedCommit sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Type, &labels,
		&parentID, &t.CreatedAt, &t.UpdatedAt, &completedAt, &startedCommit, &completedCommit)
	if err != nil {
		return nil, err
	}

	t.ParentID = parentID.String
	t.StartedAtCommit = startedCommit.String
	t.CompletedAtCommit = completedCommit.String
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	t.Labels, err = unmarshalLabels(labels)
	return &t, err
}

// UpdateTask applies a partial set of field updates by name (status,
// priority, title, description, task_type, labels, parent_id, commit
// markers). Unknown keys are rejected rather than silently ignored.
func (s *Store) UpdateTask(ctx context.Context, id string, updates map[string]interface{}) error {
	if wisp, ok := s.getWisp(id); ok {
		return s.updateWispFields(wisp, updates)
	}
	if len(updates) == 0 {
		return nil
	}

	allowed := map[string]bool{
		"status": true, "priority": true, "title": true, "description": true,
		"task_type": true, "parent_id": true, "started_at_commit": true,
		"completed_at_commit": true, "blocked_reason": true,
	}

	setClauses := "updated_at = ?"
	args := []interface{}{time.Now()}
	for k, v := range updates {
		if k == "labels" {
			labelsStr, ok := v.([]string)
			var marshaled string
			var err error
			if ok {
				marshaled, err = marshalLabels(labelsStr)
			} else {
				marshaled, err = marshalLabels(nil)
			}
			if err != nil {
				return err
			}
			setClauses += ", labels = ?"
			args = append(args, marshaled)
			continue
		}
		if !allowed[k] {
			return fmt.Errorf("tasks: unknown update field %q", k)
		}
		setClauses += ", " + k + " = ?"
		args = append(args, v)
	}
	if updates["status"] == string(StatusCompleted) {
		setClauses += ", completed_at = ?"
		args = append(args, time.Now())
	}
	args = append(args, id)

	res, err := s.db.q().ExecContext(ctx, "UPDATE tasks SET "+setClauses+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task; dependencies and comments cascade via FK.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if s.deleteWisp(id) {
		return nil
	}
	res, err := s.db.q().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddComment appends to a task's audit trail.
func (s *Store) AddComment(ctx context.Context, taskID, agent, content string) error {
	_, err := s.db.q().ExecContext(ctx,
		`INSERT INTO task_comments (task_id, agent, content, timestamp) VALUES (?, ?, ?, ?)`,
		taskID, agent, content, time.Now(),
	)
	return err
}

func (s *Store) listComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.q().QueryContext(ctx,
		`SELECT task_id, agent, content, timestamp FROM task_comments WHERE task_id = ? ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.TaskID, &c.Agent, &c.Content, &c.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- dependencies ---

// AddDependency inserts an edge, rejecting it with ErrCycleDetected if a
// `blocks` edge would close a cycle (spec §3.3 invariant). Non-`blocks`
// edge types never participate in cycle detection.
func (s *Store) AddDependency(ctx context.Context, dep Dependency) error {
	if dep.DepType == DepBlocks {
		cyc, err := wouldCycle(ctx, s.db.q(), dep.SrcID, dep.DstID)
		if err != nil {
			return err
		}
		if cyc {
			return ErrCycleDetected
		}
	}
	_, err := s.db.q().ExecContext(ctx, `
		INSERT INTO task_dependencies (src_id, dst_id, dep_type, weight) VALUES (?, ?, ?, ?)
		ON CONFLICT(src_id, dst_id, dep_type) DO UPDATE SET weight = excluded.weight
	`, dep.SrcID, dep.DstID, dep.DepType, dep.Weight)
	return err
}

// RemoveDependency deletes one edge.
func (s *Store) RemoveDependency(ctx context.Context, srcID, dstID string, depType DepType) error {
	_, err := s.db.q().ExecContext(ctx,
		`DELETE FROM task_dependencies WHERE src_id = ? AND dst_id = ? AND dep_type = ?`,
		srcID, dstID, depType,
	)
	return err
}

// Blockers lists a task's still-incomplete blockers.
func (s *Store) Blockers(ctx context.Context, taskID string) ([]BlockerInfo, error) {
	return blockers(ctx, s.db.q(), taskID, false)
}

// ReadyQueue returns every ready task id, highest priority first.
func (s *Store) ReadyQueue(ctx context.Context) ([]string, error) {
	return s.db.ReadyQueue(ctx)
}

// CompleteTask marks a task completed and returns the ids of tasks it
// newly unblocks, all inside one transaction so the unblock computation
// sees a consistent snapshot (spec §4.4).
func (s *Store) CompleteTask(ctx context.Context, id, commit string) ([]string, error) {
	if _, ok := s.getWisp(id); ok {
		s.deleteWisp(id)
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx)
		}
	}()

	now := time.Now()
	res, err := tx.Q().ExecContext(ctx, `
		UPDATE tasks SET status = ?, completed_at = ?, completed_at_commit = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, StatusCompleted, now, nullString(commit), now, id, StatusCompleted)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	unblocked, err := newlyUnblocked(ctx, tx.Q(), id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return unblocked, nil
}

// --- wisps (ephemeral, in-memory only) ---

// CreateWisp creates an ephemeral scratch task that never touches
// SQLite (spec §3.3: "task_type = wisp tasks are ephemeral and never
// persisted"). It is still visible through GetTask/ReadyQueue-adjacent
// listing calls for the lifetime of the process.
func (s *Store) CreateWisp(title string) *Task {
	t := &Task{
		ID:        "w" + newID()[1:],
		Title:     title,
		Status:    StatusPending,
		Type:      TypeWisp,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.mu.Lock()
	s.wisps[t.ID] = t
	s.mu.Unlock()
	return t
}

// Wisps returns every active wisp, for scheduler.go's promotion sweep and
// `/agents`-adjacent listing.
func (s *Store) Wisps() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.wisps))
	for _, w := range s.wisps {
		out = append(out, w)
	}
	return out
}

func (s *Store) getWisp(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.wisps[id]
	return t, ok
}

func (s *Store) deleteWisp(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wisps[id]; !ok {
		return false
	}
	delete(s.wisps, id)
	return true
}

func (s *Store) updateWispFields(w *Task, updates map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range updates {
		switch k {
		case "status":
			if sv, ok := v.(string); ok {
				w.Status = Status(sv)
			}
		case "priority":
			if pv, ok := v.(int); ok {
				w.Priority = pv
			}
		case "title":
			if tv, ok := v.(string); ok {
				w.Title = tv
			}
		}
	}
	w.UpdatedAt = time.Now()
	return nil
}

// PromoteWisp converts an in-memory wisp into a persisted task (used by
// scheduler.go when a wisp outlives its freshness window) and removes it
// from the wisp list.
func (s *Store) PromoteWisp(ctx context.Context, id string) (*Task, error) {
	w, ok := s.getWisp(id)
	if !ok {
		return nil, ErrNotFound
	}
	persisted := *w
	persisted.Type = TypeTask
	persisted.ID = ""
	if err := s.CreateTask(ctx, &persisted); err != nil {
		return nil, err
	}
	s.deleteWisp(id)
	return &persisted, nil
}
