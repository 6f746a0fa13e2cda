package providers

// Option keys recognized in ChatRequest.Options. Not every provider honors
// every key; unsupported keys are stripped by FilterRequest per the
// caller's CapabilityDescriptor before the request is built.
const (
	OptMaxTokens     = "max_tokens"
	OptTemperature   = "temperature"
	OptContextSize   = "context_size"
	OptResponseFormat = "response_format"

	// Thinking/reasoning controls. OptThinkingLevel is the generic
	// "off"/"low"/"medium"/"high" knob the executor sets; each provider
	// translates it to its own wire shape (Anthropic budget_tokens,
	// OpenAI o-series reasoning_effort, DashScope enable_thinking +
	// thinking_budget).
	OptThinkingLevel  = "thinking_level"
	OptEnableThinking = "enable_thinking"
	OptThinkingBudget = "thinking_budget"
	OptReasoningEffort = "reasoning_effort"
)
