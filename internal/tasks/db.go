package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"
)

// DB wraps the task SQLite connection plus the nested-transaction depth
// tracker spec §4.4 calls for: depth 0 opens `BEGIN IMMEDIATE` to
// serialize writers, depth >0 opens a named `SAVEPOINT` so a caller that
// is already inside a transaction (e.g. CompleteTask calling into the
// unblock query) can nest without the classic "cannot start a
// transaction within a transaction" failure. Every statement, nested or
// not, runs against the single outer *sql.Tx once one is open — issuing
// a SAVEPOINT through a second pooled connection would just deadlock
// against the held write lock.
type DB struct {
	conn *sql.DB

	txMu    sync.Mutex
	txDepth int
	outer   *sql.Tx // the depth-0 transaction every nested savepoint runs inside
}

// openDB creates or attaches to the per-project task database at path
// (typically `<cwd>/.tasks/tasks.db`) and brings its schema up to date.
// Store.Open is the entry point callers outside this package use.
func openDB(ctx context.Context, path string) (*DB, error) {
	// _txlock=immediate makes every BeginTx issue BEGIN IMMEDIATE itself
	// (modernc.org/sqlite DSN param) rather than the default deferred
	// transaction — running a second, explicit BEGIN IMMEDIATE on top of
	// an already-open BeginTx fails with "cannot start a transaction
	// within a transaction".
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_txlock=immediate"
	} else {
		dsn += "?_txlock=immediate"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: opening %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1) // BEGIN IMMEDIATE serializes writers; one connection keeps that true

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tasks: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tasks: migrating schema: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// querier is satisfied by both *sql.DB and *sql.Tx, so query helpers in
// query.go can run either inside or outside an open transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Tx is an open nested transaction. Commit/Rollback mirror whichever of
// BEGIN/SAVEPOINT opened it.
type Tx struct {
	db       *DB
	depth    int
	released bool
}

// Q returns the querier a caller holding this Tx should run statements
// against — always the single outer *sql.Tx, regardless of nesting depth.
func (t *Tx) Q() querier {
	return t.db.outer
}

// Begin opens a transaction, nesting via SAVEPOINT if one is already open
// on this DB. depth tracking and the outer *sql.Tx handle are guarded by
// txMu so concurrent goroutines sharing one *DB nest correctly.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	depth := db.txDepth
	if depth == 0 {
		// The connection's _txlock=immediate DSN param makes this issue
		// BEGIN IMMEDIATE itself; see openDB.
		sqlTx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		db.outer = sqlTx
		db.txDepth = 1
		return &Tx{db: db, depth: depth}, nil
	}

	name := savepointName(depth)
	if _, err := db.outer.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	db.txDepth++
	return &Tx{db: db, depth: depth}, nil
}

func (t *Tx) Commit(ctx context.Context) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	t.db.txDepth--

	if t.depth == 0 {
		err := t.db.outer.Commit()
		t.db.outer = nil
		return err
	}
	_, err := t.db.outer.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName(t.depth))
	return err
}

func (t *Tx) Rollback(ctx context.Context) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	t.db.txDepth--

	if t.depth == 0 {
		err := t.db.outer.Rollback()
		t.db.outer = nil
		return err
	}
	_, err := t.db.outer.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName(t.depth))
	return err
}

// q returns the querier for statements issued with no transaction open.
func (db *DB) q() querier {
	return db.conn
}

func savepointName(depth int) string {
	return fmt.Sprintf("sp_%d", depth)
}
