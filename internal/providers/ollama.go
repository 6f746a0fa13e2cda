package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copilot-cli/copilot/internal/apperr"
)

const ollamaDefaultBase = "http://localhost:11434"

// OllamaProvider implements Provider against Ollama's native /api/chat
// endpoint. Unlike the OpenAI-compatible and Anthropic back-ends, Ollama
// streams newline-delimited JSON objects rather than SSE frames (spec
// §4.1 wire variant 1) — no "data: " prefix, no "[DONE]" sentinel; the
// stream simply ends when a frame arrives with "done": true.
type OllamaProvider struct {
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOllamaProvider(apiBase, defaultModel string) *OllamaProvider {
	if apiBase == "" {
		apiBase = ollamaDefaultBase
	}
	if defaultModel == "" {
		defaultModel = "qwen2.5-coder"
	}
	return &OllamaProvider{
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 300 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OllamaProvider) Name() string        { return "ollama" }
func (p *OllamaProvider) DefaultModel() string { return p.defaultModel }

func init() {
	RegisterCapability("ollama", CapabilityDescriptor{
		Kind:                   "ollama",
		SupportsThinking:       true,
		SupportsTools:          true,
		SupportsEmbeddings:     true,
		SupportsContextAPI:     true,
		SupportsResponseFormat: true,
		DefaultHost:            ollamaDefaultBase,
	})
}

func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req = FilterRequest(p.Name(), req)
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, false)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var frame ollamaChatFrame
		if err := json.NewDecoder(respBody).Decode(&frame); err != nil {
			return nil, fmt.Errorf("ollama: decode response: %w", err)
		}
		return p.parseFrame(&frame, nil), nil
	})
}

func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	req = FilterRequest(p.Name(), req)
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	body := p.buildRequestBody(model, req, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	result := &ChatResponse{FinishReason: "stop"}
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame ollamaChatFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue
		}

		if frame.Message.Thinking != "" {
			result.Thinking += frame.Message.Thinking
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: frame.Message.Thinking})
			}
		}
		if frame.Message.Content != "" {
			result.Content += frame.Message.Content
			if onChunk != nil {
				onChunk(StreamChunk{Content: frame.Message.Content})
			}
		}
		if len(frame.Message.ToolCalls) > 0 {
			for _, tc := range frame.Message.ToolCalls {
				result.ToolCalls = append(result.ToolCalls, ToolCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}

		if frame.Done {
			if len(result.ToolCalls) > 0 {
				result.FinishReason = "tool_calls"
			} else if frame.DoneReason == "length" {
				result.FinishReason = "length"
			}
			result.Usage = &Usage{
				PromptTokens:     frame.PromptEvalCount,
				CompletionTokens: frame.EvalCount,
				TotalTokens:      frame.PromptEvalCount + frame.EvalCount,
			}
			break
		}
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	return result, nil
}

func (p *OllamaProvider) buildRequestBody(model string, req ChatRequest, stream bool) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := map[string]interface{}{
			"role":    m.Role,
			"content": m.Content,
		}
		if len(m.Images) > 0 {
			imgs := make([]string, 0, len(m.Images))
			for _, img := range m.Images {
				imgs = append(imgs, img.Data)
			}
			msg["images"] = imgs
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]interface{}{
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_name"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		body["tools"] = CleanToolSchemas("ollama", req.Tools)
	}

	options := map[string]interface{}{}
	if v, ok := req.Options[OptTemperature]; ok {
		options["temperature"] = v
	}
	if v, ok := req.Options[OptContextSize]; ok {
		options["num_ctx"] = v
	}
	if len(options) > 0 {
		body["options"] = options
	}
	if v, ok := req.Options[OptEnableThinking]; ok {
		body["think"] = v
	} else if level, ok := req.Options[OptThinkingLevel].(string); ok && level != "" && level != "off" {
		body["think"] = true
	}

	return body
}

func (p *OllamaProvider) doRequest(ctx context.Context, body map[string]interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProviderTransport, "ollama: request failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		httpErr := &HTTPError{Status: resp.StatusCode, Body: fmt.Sprintf("ollama: %s", string(respBody))}
		kind := apperr.KindProviderProtocol
		if resp.StatusCode >= 500 {
			kind = apperr.KindProviderTransport
		}
		return nil, apperr.Wrap(kind, "ollama request failed", httpErr)
	}

	return resp.Body, nil
}

func (p *OllamaProvider) parseFrame(frame *ollamaChatFrame, _ []byte) *ChatResponse {
	result := &ChatResponse{
		Content:  frame.Message.Content,
		Thinking: frame.Message.Thinking,
	}
	for _, tc := range frame.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	} else {
		result.FinishReason = "stop"
	}
	result.Usage = &Usage{
		PromptTokens:     frame.PromptEvalCount,
		CompletionTokens: frame.EvalCount,
		TotalTokens:      frame.PromptEvalCount + frame.EvalCount,
	}
	return result
}

// ollamaChatFrame is one NDJSON object from /api/chat, streaming or not.
type ollamaChatFrame struct {
	Model           string             `json:"model"`
	Message         ollamaChatMessage  `json:"message"`
	Done            bool               `json:"done"`
	DoneReason      string             `json:"done_reason,omitempty"`
	PromptEvalCount int                `json:"prompt_eval_count,omitempty"`
	EvalCount       int                `json:"eval_count,omitempty"`
}

type ollamaChatMessage struct {
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Thinking  string               `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCallWire `json:"tool_calls,omitempty"`
}

type ollamaToolCallWire struct {
	Function ollamaToolCallFunc `json:"function"`
}

type ollamaToolCallFunc struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}
