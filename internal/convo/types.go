// Package convo implements the conversation database (spec §3.1, §4.4 C8)
// and the windowed in-memory view over it (spec §4.5 C9): persisted
// messages, conversations, and agent invocations backed by SQLite, plus a
// virtualization layer that keeps only a bounded window of message bodies
// in memory regardless of how long a conversation runs.
package convo

import "time"

// Role mirrors spec §3.1's Message.role enumeration.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleSystem      Role = "system"
	RoleTool        Role = "tool"
	RoleDisplayOnly Role = "display_only"
)

// Message is the persisted unit of conversation history. tool_calls and
// permission_request are deliberately absent here — spec §3.1 says both
// are "never persisted in full; reconstructed from context when
// replayed" / "ephemeral... never persisted".
type Message struct {
	MessageID   int64 // monotonic per-session counter
	SessionKey  string
	Role        Role
	Content     string
	Thinking    string // present only when the back-end supports it
	ToolCallID  string // non-empty iff Role == RoleTool
	AgentSource string // name of the agent that produced this message, empty for main conversation
	Timestamp   time.Time
}

// Conversation is one session's top-level record.
type Conversation struct {
	SessionKey string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AgentInvocation is one run of an agent (spec §3.4), persisted by
// internal/agent's Executor through the ConversationStore seam.
type AgentInvocation struct {
	ID             string
	SessionID      string
	AgentName      string
	ParentMessageID string // optional
	TaskID         string  // optional
	StartedAt      time.Time
	EndedAt        *time.Time
	Status         string // running, completed, failed
	ResultSummary  string
	ToolCallsMade  int
	IterationsUsed int
}

// AgentMessage mirrors Message but scoped to one invocation's private
// history rather than the main conversation.
type AgentMessage struct {
	InvocationID string
	Index        int
	Role         Role
	Content      string
	ToolCallID   string
	Timestamp    time.Time
}
