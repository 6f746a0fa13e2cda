package agent

import "github.com/copilot-cli/copilot/internal/providers"

// pausedState is the opaque continuation a needs_input AgentResult carries.
// resume_with_user_input (spec §4.2) appends a user message to messages and
// re-enters the loop with the same invocation/accumulated-time bookkeeping,
// so a conversational agent's history never has to be reloaded from scratch
// between turns.
type pausedState struct {
	sessionKey        string
	messages          []providers.Message
	accumulatedTimeMs int64
	invocationID      string
	persistedCount    int // messages already written to the conversation store, used as the next index
	toolCallsMade     int
	iterationsUsed    int
}
