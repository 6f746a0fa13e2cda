package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// SessionSummary is the listing shape for sessions_list (spec §4.2: the
// main conversation and every running sub-agent each have a session the
// model can enumerate, inspect, and message).
type SessionSummary struct {
	Key          string
	Label        string
	MessageCount int
	Updated      time.Time
}

// SessionMessage is one turn in a session's history, as exposed to the
// sessions_history tool.
type SessionMessage struct {
	Role    string
	Content string
}

// SessionStore is implemented by the conversation/sub-agent registry
// that backs cross-session tools. It is intentionally narrow: listing,
// history, and delivering a message are all the model needs to
// coordinate with sibling sessions.
type SessionStore interface {
	List() []SessionSummary
	History(sessionKey string) ([]SessionMessage, bool)
	Send(ctx context.Context, sessionKey, message string) error
}

const (
	historyMaxCharsPerMessage = 4000
	historyMaxTotalBytes      = 80 * 1024
)

// ============================================================
// sessions_list
// ============================================================

type SessionsListTool struct {
	sessions SessionStore
}

func NewSessionsListTool(sessions SessionStore) *SessionsListTool {
	return &SessionsListTool{sessions: sessions}
}

func (t *SessionsListTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "sessions_list",
		Description: "List active sessions (the main conversation and any running sub-agents).",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"active_minutes": map[string]interface{}{
					"type":        "number",
					"description": "Only show sessions active in the last N minutes",
				},
			},
		},
	}
}

func (t *SessionsListTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.sessions == nil {
		return ErrorResult("session store not available"), nil
	}

	var activeMinutes int
	if v, ok := args["active_minutes"].(float64); ok && int(v) > 0 {
		activeMinutes = int(v)
	}

	sessions := t.sessions.List()
	if activeMinutes > 0 {
		cutoff := time.Now().Add(-time.Duration(activeMinutes) * time.Minute)
		filtered := sessions[:0]
		for _, s := range sessions {
			if s.Updated.After(cutoff) {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	type sessionEntry struct {
		Key          string `json:"key"`
		Label        string `json:"label,omitempty"`
		MessageCount int    `json:"message_count"`
		Updated      string `json:"updated"`
	}
	entries := make([]sessionEntry, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, sessionEntry{
			Key:          s.Key,
			Label:        s.Label,
			MessageCount: s.MessageCount,
			Updated:      s.Updated.Format(time.RFC3339),
		})
	}

	out, _ := json.Marshal(map[string]interface{}{
		"count":    len(entries),
		"sessions": entries,
	})
	return SilentResult(string(out)), nil
}

// ============================================================
// sessions_history
// ============================================================

type SessionsHistoryTool struct {
	sessions SessionStore
}

func NewSessionsHistoryTool(sessions SessionStore) *SessionsHistoryTool {
	return &SessionsHistoryTool{sessions: sessions}
}

func (t *SessionsHistoryTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "sessions_history",
		Description: "Fetch message history for a session.",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_key": map[string]interface{}{
					"type":        "string",
					"description": "Session key to fetch history from",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Max messages to return (default 20)",
				},
			},
			"required": []string{"session_key"},
		},
	}
}

func (t *SessionsHistoryTool) Scope(args map[string]interface{}) Scope {
	key, _ := args["session_key"].(string)
	return key
}

func (t *SessionsHistoryTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.sessions == nil {
		return ErrorResult("session store not available"), nil
	}

	sessionKey, _ := args["session_key"].(string)
	if sessionKey == "" {
		return ErrorResult("session_key is required"), nil
	}

	limit := 20
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	history, ok := t.sessions.History(sessionKey)
	if !ok {
		return SilentResult(fmt.Sprintf(`{"session_key":%q,"messages":[],"count":0}`, sessionKey)), nil
	}

	type msgEntry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	var entries []msgEntry
	for _, m := range history {
		content := m.Content
		if utf8.RuneCountInString(content) > historyMaxCharsPerMessage {
			runes := []rune(content)
			content = string(runes[:historyMaxCharsPerMessage]) + "... [truncated]"
		}
		entries = append(entries, msgEntry{Role: m.Role, Content: content})
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out, _ := json.Marshal(map[string]interface{}{
		"session_key": sessionKey,
		"messages":    entries,
		"count":       len(entries),
	})

	if len(out) > historyMaxTotalBytes {
		return SilentResult(fmt.Sprintf(
			`{"session_key":%q,"error":"history too large (%d bytes), use a smaller limit","count":%d}`,
			sessionKey, len(out), len(entries),
		)), nil
	}

	return SilentResult(string(out)), nil
}

// ============================================================
// sessions_send
// ============================================================

type SessionsSendTool struct {
	sessions SessionStore
}

func NewSessionsSendTool(sessions SessionStore) *SessionsSendTool {
	return &SessionsSendTool{sessions: sessions}
}

func (t *SessionsSendTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "sessions_send",
		Description: "Send a message into another session, identified by session_key or label.",
		Risk:        RiskSensitive,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"session_key": map[string]interface{}{"type": "string", "description": "Target session key"},
				"label":       map[string]interface{}{"type": "string", "description": "Target session label (alternative to session_key)"},
				"message":     map[string]interface{}{"type": "string", "description": "Message to send"},
			},
			"required": []string{"message"},
		},
	}
}

func (t *SessionsSendTool) Scope(args map[string]interface{}) Scope {
	if key, _ := args["session_key"].(string); key != "" {
		return key
	}
	label, _ := args["label"].(string)
	return label
}

func (t *SessionsSendTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if t.sessions == nil {
		return ErrorResult("session store not available"), nil
	}

	sessionKey, _ := args["session_key"].(string)
	label, _ := args["label"].(string)
	message, _ := args["message"].(string)

	if message == "" {
		return ErrorResult("message is required"), nil
	}
	if sessionKey == "" && label == "" {
		return ErrorResult("either session_key or label is required"), nil
	}

	if sessionKey == "" {
		for _, s := range t.sessions.List() {
			if s.Label == label {
				sessionKey = s.Key
				break
			}
		}
		if sessionKey == "" {
			return ErrorResult(fmt.Sprintf("no session found with label: %s", label)), nil
		}
	}

	if err := t.sessions.Send(ctx, sessionKey, message); err != nil {
		return ErrorResult(fmt.Sprintf("send failed: %v", err)), nil
	}

	return SilentResult(fmt.Sprintf(`{"status":"accepted","session_key":%q}`, sessionKey)), nil
}
