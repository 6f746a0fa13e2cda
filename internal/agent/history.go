package agent

import (
	"log/slog"

	"github.com/copilot-cli/copilot/internal/providers"
)

// buildMessages assembles the message slate for one LM call: a system
// prompt, the windowed history the caller loaded (already trimmed by the
// conversation virtualization layer, C9), and the new user turn.
func buildMessages(systemPrompt string, history []providers.Message, userMessage string) []providers.Message {
	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, sanitizeHistory(history)...)
	messages = append(messages, providers.Message{Role: "user", Content: userMessage})
	return messages
}

// sanitizeHistory repairs tool_use/tool_result pairing in history loaded
// from the conversation database. A window boundary, a crash between the
// assistant turn and its tool results, or manual editing of the DB can all
// leave a dangling tool_call with no matching tool message (or vice versa);
// providers reject such a sequence outright, so the executor must never
// hand it to Chat/ChatStream uncorrected.
func sanitizeHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start", "tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expectedIDs := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expectedIDs[tc.ID] = true
			}
			result = append(result, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expectedIDs[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expectedIDs, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result", "tool_call_id", toolMsg.ToolCallID)
				}
			}

			for id := range expectedIDs {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[tool result missing from history]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history", "tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}

	return result
}
