package convo

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/copilot-cli/copilot/internal/agent"
	"github.com/copilot-cli/copilot/internal/providers"
	"github.com/copilot-cli/copilot/internal/tools"
)

// Store is the SQLite-backed conversation database (spec §3.1, §3.4, C8)
// and satisfies both internal/tools.SessionStore (cross-session tools)
// and internal/agent.ConversationStore (invocation persistence), the two
// seams the rest of the system drives it through.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex // serializes the monotonic-counter read-modify-write below

	// pending holds cross-session messages injected via Send that the
	// coordinator's input queue has not yet drained (spec §4.5: a
	// sessions_send call can target a session that isn't polling right
	// now, so delivery has to survive until it next reads its queue).
	pendingMu sync.Mutex
	pending   map[string][]string
}

var (
	_ tools.SessionStore    = (*Store)(nil)
	_ agent.ConversationStore = (*Store)(nil)
)

// Open opens (creating if necessary) the conversation database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("convo: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		conn.Close()
		return nil, err
	}
	s := &Store{conn: conn, pending: make(map[string][]string)}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			session_key TEXT PRIMARY KEY,
			title       TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			message_id   INTEGER NOT NULL,
			session_key  TEXT NOT NULL REFERENCES conversations(session_key) ON DELETE CASCADE,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			thinking     TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			agent_source TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			PRIMARY KEY (session_key, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_key, created_at);

		CREATE TABLE IF NOT EXISTS agent_invocations (
			id                TEXT PRIMARY KEY,
			session_id        TEXT NOT NULL,
			agent_name        TEXT NOT NULL,
			parent_message_id TEXT NOT NULL DEFAULT '',
			task_id           TEXT NOT NULL DEFAULT '',
			started_at        DATETIME NOT NULL,
			ended_at          DATETIME,
			status            TEXT NOT NULL DEFAULT 'running',
			result_summary    TEXT NOT NULL DEFAULT '',
			tool_calls_made   INTEGER NOT NULL DEFAULT 0,
			iterations_used   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_invocations_session ON agent_invocations(session_id);

		CREATE TABLE IF NOT EXISTS agent_messages (
			invocation_id TEXT NOT NULL REFERENCES agent_invocations(id) ON DELETE CASCADE,
			idx           INTEGER NOT NULL,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			tool_call_id  TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			PRIMARY KEY (invocation_id, idx)
		);
	`)
	return err
}

// ============================================================
// agent.ConversationStore
// ============================================================

// CreateInvocation opens a new agent invocation record and returns its id.
func (s *Store) CreateInvocation(ctx context.Context, sessionKey, agentName string) (string, error) {
	if err := s.ensureConversation(ctx, sessionKey); err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO agent_invocations (id, session_id, agent_name, started_at, status)
		VALUES (?, ?, ?, ?, 'running')
	`, id, sessionKey, agentName, time.Now().UTC())
	return id, err
}

// AppendMessage persists one message of an invocation's private history.
func (s *Store) AppendMessage(ctx context.Context, invocationID string, index int, msg providers.Message) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO agent_messages (invocation_id, idx, role, content, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(invocation_id, idx) DO UPDATE SET
			role = excluded.role, content = excluded.content, tool_call_id = excluded.tool_call_id
	`, invocationID, index, msg.Role, msg.Content, msg.ToolCallID, time.Now().UTC())
	return err
}

// FinishInvocation marks an invocation complete or failed and records its
// closing stats.
func (s *Store) FinishInvocation(ctx context.Context, invocationID, status, resultSummary string, stats agent.Stats) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE agent_invocations
		SET ended_at = ?, status = ?, result_summary = ?, tool_calls_made = ?, iterations_used = ?
		WHERE id = ?
	`, time.Now().UTC(), status, resultSummary, stats.ToolCallsMade, stats.IterationsUsed, invocationID)
	return err
}

// ============================================================
// tools.SessionStore
// ============================================================

// List returns every known conversation, most recently updated first.
func (s *Store) List() []tools.SessionSummary {
	rows, err := s.conn.Query(`
		SELECT c.session_key, c.title, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_key = c.session_key)
		FROM conversations c
		ORDER BY c.updated_at DESC
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []tools.SessionSummary
	for rows.Next() {
		var sum tools.SessionSummary
		var title string
		if err := rows.Scan(&sum.Key, &title, &sum.Updated, &sum.MessageCount); err != nil {
			continue
		}
		sum.Label = title
		if sum.Label == "" {
			sum.Label = sum.Key
		}
		out = append(out, sum)
	}
	return out
}

// History returns the full persisted transcript of sessionKey.
func (s *Store) History(sessionKey string) ([]tools.SessionMessage, bool) {
	rows, err := s.conn.Query(`
		SELECT role, content FROM messages
		WHERE session_key = ? ORDER BY message_id ASC
	`, sessionKey)
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	found := false
	var out []tools.SessionMessage
	for rows.Next() {
		found = true
		var m tools.SessionMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			continue
		}
		out = append(out, m)
	}
	if !found {
		var exists int
		_ = s.conn.QueryRow(`SELECT 1 FROM conversations WHERE session_key = ?`, sessionKey).Scan(&exists)
		return out, exists == 1
	}
	return out, true
}

// Send delivers message into sessionKey's pending-input queue (spec §4.5:
// a sessions_send call may target a session that isn't actively draining
// its queue right now, so the message waits there until it is).
func (s *Store) Send(ctx context.Context, sessionKey, message string) error {
	if _, ok := s.History(sessionKey); !ok {
		return fmt.Errorf("convo: unknown session %q", sessionKey)
	}
	s.pendingMu.Lock()
	s.pending[sessionKey] = append(s.pending[sessionKey], message)
	s.pendingMu.Unlock()
	return nil
}

// DrainPending removes and returns every message queued for sessionKey
// via Send. Used by internal/coordinator's input queue (spec §4.5).
func (s *Store) DrainPending(sessionKey string) []string {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	msgs := s.pending[sessionKey]
	delete(s.pending, sessionKey)
	return msgs
}

// ============================================================
// Main-conversation message log
// ============================================================

func (s *Store) ensureConversation(ctx context.Context, sessionKey string) error {
	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO conversations (session_key, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO NOTHING
	`, sessionKey, now, now)
	return err
}

// AppendConversationMessage assigns the next monotonic message_id for
// sessionKey and persists msg (spec §3.1), returning the assigned id.
func (s *Store) AppendConversationMessage(ctx context.Context, sessionKey string, msg Message) (int64, error) {
	if err := s.ensureConversation(ctx, sessionKey); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next sql.NullInt64
	if err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(message_id) FROM messages WHERE session_key = ?`, sessionKey,
	).Scan(&next); err != nil {
		return 0, err
	}
	id := int64(0)
	if next.Valid {
		id = next.Int64 + 1
	}

	now := time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO messages (message_id, session_key, role, content, thinking, tool_call_id, agent_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sessionKey, string(msg.Role), msg.Content, msg.Thinking, msg.ToolCallID, msg.AgentSource, now)
	if err != nil {
		return 0, err
	}
	_, err = s.conn.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE session_key = ?`, now, sessionKey)
	return id, err
}

// LoadRange returns the persisted messages for sessionKey with
// message_id in [from, to), ordered ascending — the primary-storage
// fetch behind virtual.go's windowed view.
func (s *Store) LoadRange(ctx context.Context, sessionKey string, from, to int64) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT message_id, role, content, thinking, tool_call_id, agent_source, created_at
		FROM messages
		WHERE session_key = ? AND message_id >= ? AND message_id < ?
		ORDER BY message_id ASC
	`, sessionKey, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.MessageID, &role, &m.Content, &m.Thinking, &m.ToolCallID, &m.AgentSource, &m.Timestamp); err != nil {
			return nil, err
		}
		m.SessionKey = sessionKey
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount returns how many messages sessionKey currently has.
func (s *Store) MessageCount(ctx context.Context, sessionKey string) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_key = ?`, sessionKey).Scan(&n)
	return n, err
}
