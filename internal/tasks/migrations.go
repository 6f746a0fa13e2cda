package tasks

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the current migration target. Every migration is
// idempotent (CREATE TABLE IF NOT EXISTS, tolerant ALTER) so re-running
// migrate on an already-current database is a cheap no-op.
const schemaVersion = 3

// migrate brings the database from whatever version it's at (0 if the
// db_metadata table doesn't exist yet) up to schemaVersion, applying each
// step in order. Linear and version-gated, per spec §4.4.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS db_metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating db_metadata: %w", err)
	}

	current, err := db.currentVersion(ctx)
	if err != nil {
		return err
	}

	steps := []func(context.Context) error{
		db.migrateV1,
		db.migrateV2,
		db.migrateV3,
	}
	for v := current; v < schemaVersion; v++ {
		if err := steps[v](ctx); err != nil {
			return fmt.Errorf("migration v%d: %w", v+1, err)
		}
		if err := db.setVersion(ctx, v+1); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) currentVersion(ctx context.Context) (int, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM db_metadata WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("parsing schema_version %q: %w", raw, err)
	}
	return v, nil
}

func (db *DB) setVersion(ctx context.Context, v int) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO db_metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, fmt.Sprintf("%d", v))
	return err
}

// migrateV1 creates the base task/dependency/comment tables.
func (db *DB) migrateV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id                   TEXT PRIMARY KEY,
			title                TEXT NOT NULL,
			description          TEXT NOT NULL DEFAULT '',
			status               TEXT NOT NULL DEFAULT 'pending',
			priority             INTEGER NOT NULL DEFAULT 0,
			task_type            TEXT NOT NULL DEFAULT 'task',
			labels               TEXT NOT NULL DEFAULT '[]',
			parent_id            TEXT,
			created_at           DATETIME NOT NULL,
			updated_at           DATETIME NOT NULL,
			completed_at         DATETIME,
			FOREIGN KEY (parent_id) REFERENCES tasks(id) ON DELETE SET NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_dependencies (
			src_id   TEXT NOT NULL,
			dst_id   TEXT NOT NULL,
			dep_type TEXT NOT NULL,
			weight   INTEGER NOT NULL DEFAULT 0,
			UNIQUE(src_id, dst_id, dep_type),
			FOREIGN KEY (src_id) REFERENCES tasks(id) ON DELETE CASCADE,
			FOREIGN KEY (dst_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS task_comments (
			task_id   TEXT NOT NULL,
			agent     TEXT NOT NULL,
			content   TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_priority_status ON tasks(priority, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_src ON task_dependencies(src_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deps_dst ON task_dependencies(dst_id)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 adds blocked_reason, for tasks explicitly marked blocked
// (as opposed to derived-blocked by an incomplete dependency).
func (db *DB) migrateV2(ctx context.Context) error {
	return addColumnIfMissing(ctx, db.conn, "tasks", "blocked_reason", "TEXT")
}

// migrateV3 adds the session-state table, commit-tracking columns, and
// the compound ready-queue index.
func (db *DB) migrateV3(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS session_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			session_id       TEXT NOT NULL,
			current_task_id  TEXT,
			started_at       DATETIME NOT NULL
		)
	`); err != nil {
		return err
	}
	if err := addColumnIfMissing(ctx, db.conn, "tasks", "started_at_commit", "TEXT"); err != nil {
		return err
	}
	if err := addColumnIfMissing(ctx, db.conn, "tasks", "completed_at_commit", "TEXT"); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_tasks_ready ON tasks(status, task_type, priority, created_at)
	`)
	return err
}

// addColumnIfMissing tolerates re-running a migration that ALTERs a
// table: SQLite has no `ADD COLUMN IF NOT EXISTS`, so this checks
// pragma_table_info first.
func addColumnIfMissing(ctx context.Context, conn *sql.DB, table, column, ddlType string) error {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM pragma_table_info('%s')`, table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddlType))
	return err
}
