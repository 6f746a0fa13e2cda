package tasks

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// shardRecord is the JSONL wire shape for one task, used for the
// external git-sync collaborator's import/export (spec §4.4: "the DB
// exposes import/export helpers (JSONL) that the external Git-sync
// collaborator invokes").
type shardRecord struct {
	Task         Task         `json:"task"`
	Dependencies []Dependency `json:"dependencies"`
}

// ExportJSONL writes every persisted (non-wisp, by construction) task and
// its outgoing dependency edges to w, one JSON object per line.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer) error {
	rows, err := s.db.q().QueryContext(ctx, `SELECT id FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	enc := json.NewEncoder(w)
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return fmt.Errorf("tasks: exporting %s: %w", id, err)
		}
		deps, err := s.outgoingDependencies(ctx, id)
		if err != nil {
			return err
		}
		if err := enc.Encode(shardRecord{Task: *t, Dependencies: deps}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) outgoingDependencies(ctx context.Context, srcID string) ([]Dependency, error) {
	rows, err := s.db.q().QueryContext(ctx,
		`SELECT src_id, dst_id, dep_type, weight FROM task_dependencies WHERE src_id = ?`, srcID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []Dependency
	for rows.Next() {
		var d Dependency
		if err := rows.Scan(&d.SrcID, &d.DstID, &d.DepType, &d.Weight); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// ImportJSONL reads shard records and upserts them. Every dependency edge
// is inserted only after all task rows have been upserted, so a forward
// reference within the same file resolves despite task_dependencies'
// foreign key on both ends. An edge rejected as a cycle is skipped.
func (s *Store) ImportJSONL(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(bufio.NewReader(r))
	var deferredDeps []Dependency

	for {
		var rec shardRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("tasks: decoding import shard: %w", err)
		}
		if err := s.upsertImportedTask(ctx, &rec.Task); err != nil {
			return fmt.Errorf("tasks: importing task %s: %w", rec.Task.ID, err)
		}
		deferredDeps = append(deferredDeps, rec.Dependencies...)
	}

	for _, d := range deferredDeps {
		if err := s.AddDependency(ctx, d); err != nil && err != ErrCycleDetected {
			return fmt.Errorf("tasks: importing dependency %s->%s: %w", d.SrcID, d.DstID, err)
		}
	}
	return nil
}

func (s *Store) upsertImportedTask(ctx context.Context, t *Task) error {
	labels, err := marshalLabels(t.Labels)
	if err != nil {
		return err
	}
	_, err = s.db.q().ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, task_type, labels, parent_id,
		                    created_at, updated_at, completed_at, started_at_commit, completed_at_commit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, description = excluded.description, status = excluded.status,
			priority = excluded.priority, task_type = excluded.task_type, labels = excluded.labels,
			parent_id = excluded.parent_id, updated_at = excluded.updated_at,
			completed_at = excluded.completed_at, started_at_commit = excluded.started_at_commit,
			completed_at_commit = excluded.completed_at_commit
	`, t.ID, t.Title, t.Description, t.Status, t.Priority, t.Type, labels, nullString(t.ParentID),
		t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt), nullString(t.StartedAtCommit), nullString(t.CompletedAtCommit))
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// IsEmpty reports whether the task table has no rows yet, the signal
// spec §4.4 uses to decide whether a JSONL import should run on startup.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	err := s.db.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n == 0, err
}

// ImportShardFile is a convenience wrapper around ImportJSONL for the
// common case of importing directly from a path on disk.
func (s *Store) ImportShardFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.ImportJSONL(ctx, f)
}
