package providers

// Wire-format structs for the OpenAI-compatible chat completions API
// (OpenAI, Groq, OpenRouter, DeepSeek, VLLM, DashScope's compatible-mode
// endpoint, Gemini's OpenAI-compatible endpoint).

type openAIResponse struct {
	Choices []openAIChoice     `json:"choices"`
	Usage   *openAIUsage       `json:"usage,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIMessage struct {
	Content          string             `json:"content"`
	ReasoningContent string             `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIToolCall   `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string              `json:"id"`
	Index    int                 `json:"index,omitempty"`
	Function openAIToolCallFunc  `json:"function"`
}

type openAIToolCallFunc struct {
	Name             string `json:"name"`
	Arguments        string `json:"arguments"`
	ThoughtSignature string `json:"thought_signature,omitempty"`
}

type openAIUsage struct {
	PromptTokens            int                       `json:"prompt_tokens"`
	CompletionTokens         int                       `json:"completion_tokens"`
	TotalTokens              int                       `json:"total_tokens"`
	PromptTokensDetails      *openAIPromptDetails      `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails  *openAICompletionDetails  `json:"completion_tokens_details,omitempty"`
}

type openAIPromptDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type openAICompletionDetails struct {
	ReasoningTokens int `json:"reasoning_tokens"`
}

// Streaming variant: same shapes but with a "delta" instead of "message".

type openAIStreamChunk struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Content          string                    `json:"content,omitempty"`
	ReasoningContent string                    `json:"reasoning_content,omitempty"`
	ToolCalls        []openAIStreamToolCallDelta `json:"tool_calls,omitempty"`
}

type openAIStreamToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Function openAIToolCallFunc `json:"function"`
}

// toolCallAccumulator reassembles one streamed tool call from its
// per-chunk argument fragments, keyed by delta index (spec §4.1 E4: the
// wire format spreads one tool call's arguments across many SSE frames).
type toolCallAccumulator struct {
	ToolCall
	rawArgs    string
	thoughtSig string
}
