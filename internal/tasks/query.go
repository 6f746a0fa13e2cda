package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
)

// readyQueueQuery mirrors spec §4.4's ready-queue SQL exactly: a pending,
// non-molecule task with no incomplete `blocks` predecessor.
const readyQueueQuery = `
SELECT id FROM tasks t
WHERE status = 'pending'
  AND task_type != 'molecule'
  AND NOT EXISTS (
    SELECT 1 FROM task_dependencies d
    JOIN tasks b ON d.src_id = b.id
    WHERE d.dst_id = t.id AND d.dep_type = 'blocks'
      AND b.status != 'completed'
  )
ORDER BY priority ASC, created_at ASC
`

// ReadyQueue returns the ids of every ready task, in priority order.
func (db *DB) ReadyQueue(ctx context.Context) ([]string, error) {
	rows, err := db.q().QueryContext(ctx, readyQueueQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// wouldCycle reports whether adding a `blocks` edge (u -> v) would close
// a cycle: true iff a path v -> ... -> u already exists over `blocks`
// edges. DFS from v following outgoing `blocks` edges (d.src_id = v),
// since "v blocks w" only helps close the cycle back to u if w can
// eventually reach u the same way — so we walk dst_id chains from v.
func wouldCycle(ctx context.Context, q querier, u, v string) (bool, error) {
	visited := map[string]bool{v: true}
	stack := []string{v}

	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]

		if cur == u {
			return true, nil
		}

		rows, err := q.QueryContext(ctx, `SELECT dst_id FROM task_dependencies WHERE src_id = ? AND dep_type = 'blocks'`, cur)
		if err != nil {
			return false, err
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()

		for _, id := range next {
			if !visited[id] {
				visited[id] = true
				stack = append(stack, id)
			}
		}
	}
	return false, nil
}

// blockedByCount recomputes the number of incomplete `blocks`
// predecessors for a task — the derived count spec §3.3 calls for.
func blockedByCount(ctx context.Context, q querier, taskID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM task_dependencies d
		JOIN tasks b ON d.src_id = b.id
		WHERE d.dst_id = ? AND d.dep_type = 'blocks' AND b.status != 'completed'
	`, taskID).Scan(&n)
	return n, err
}

// blockers lists every still-incomplete (and, if includeCompleted,
// also completed) blocker of a task, for display.
func blockers(ctx context.Context, q querier, taskID string, includeCompleted bool) ([]BlockerInfo, error) {
	query := `
		SELECT b.id, b.title, b.status = 'completed' AS completed
		FROM task_dependencies d
		JOIN tasks b ON d.src_id = b.id
		WHERE d.dst_id = ? AND d.dep_type = 'blocks'
	`
	if !includeCompleted {
		query += " AND b.status != 'completed'"
	}
	rows, err := q.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlockerInfo
	for rows.Next() {
		var b BlockerInfo
		if err := rows.Scan(&b.ID, &b.Title, &b.Completed); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// newlyUnblocked returns the ids of tasks that become ready as a direct
// result of completing taskID: tasks it `blocks` that now have zero
// remaining incomplete blockers (this completion was their last one).
func newlyUnblocked(ctx context.Context, q querier, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.dst_id FROM task_dependencies d
		WHERE d.src_id = ? AND d.dep_type = 'blocks'
		  AND NOT EXISTS (
		    SELECT 1 FROM task_dependencies d2
		    JOIN tasks b2 ON d2.src_id = b2.id
		    WHERE d2.dst_id = d.dst_id AND d2.dep_type = 'blocks'
		      AND d2.src_id != ? AND b2.status != 'completed'
		  )
	`, taskID, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	b, err := json.Marshal(labels)
	return string(b), err
}

func unmarshalLabels(raw string) ([]string, error) {
	var labels []string
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
