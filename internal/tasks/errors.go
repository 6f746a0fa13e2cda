package tasks

import "errors"

var (
	// ErrCycleDetected is returned when inserting a `blocks` edge would
	// close a cycle in the dependency DAG (spec §3.3 invariant).
	ErrCycleDetected = errors.New("tasks: dependency would create a cycle")

	// ErrNotFound is returned when a task or dependency lookup misses.
	ErrNotFound = errors.New("tasks: not found")

	// ErrWispNotPersistable is returned if a caller tries to write a
	// wisp-typed task directly to SQLite; wisps are ephemeral by
	// definition and must go through the in-memory wisp list instead.
	ErrWispNotPersistable = errors.New("tasks: wisp tasks are never persisted")
)
