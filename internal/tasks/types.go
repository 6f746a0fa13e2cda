// Package tasks implements the project task DAG (spec §3.3, §4.4): a
// SQLite-backed store of tasks and their `blocks`/`related`/`subtask_of`/
// `derived_from` dependency edges, a ready-queue query, cycle-safe
// dependency insertion, and an optional cron-driven wisp promoter.
package tasks

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Type distinguishes an actionable task from a container or an ephemeral
// scratch item.
type Type string

const (
	TypeTask     Type = "task"
	TypeMolecule Type = "molecule" // container, never ready
	TypeWisp     Type = "wisp"     // ephemeral, never persisted
)

// DepType classifies a dependency edge. Only DepBlocks contributes to
// blocked_by_count and cycle detection.
type DepType string

const (
	DepBlocks     DepType = "blocks"
	DepRelated    DepType = "related"
	DepSubtaskOf  DepType = "subtask_of"
	DepDerivedFrom DepType = "derived_from"
)

// Task is one node of the dependency DAG.
type Task struct {
	ID          string // 8-byte identifier, short hex
	Title       string
	Description string
	Status      Status
	Priority    int // lower = higher priority
	Type        Type
	Labels      []string
	ParentID    string // optional

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	StartedAtCommit   string // optional
	CompletedAtCommit string // optional

	BlockedByCount int // derived, recomputed on load and on dependency mutation

	Comments []Comment
}

// Comment is one entry in a task's audit trail.
type Comment struct {
	TaskID    string
	Agent     string
	Content   string
	Timestamp time.Time
}

// Dependency is one edge of the DAG.
type Dependency struct {
	SrcID   string
	DstID   string
	DepType DepType
	Weight  int
}

// BlockerInfo describes one still-incomplete blocker of a task, for
// listing (as opposed to the count-only form used for blocked_by_count).
type BlockerInfo struct {
	ID        string
	Title     string
	Completed bool
}

// SessionState is the single persisted row tracking which repository
// session is active and what task it's currently focused on.
type SessionState struct {
	SessionID     string
	CurrentTaskID string // optional
	StartedAt     time.Time
}
