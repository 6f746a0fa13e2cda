// Package agent implements the per-agent iteration loop (spec §4.2): it
// streams an LM response, accumulates tool calls, dispatches them (policy-
// gated for the main conversation, capability-mask-only for every other
// agent — spec's trust model), feeds results back, and repeats until the
// model stops calling tools or, in conversation mode, needs more input.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/copilot-cli/copilot/internal/apperr"
	"github.com/copilot-cli/copilot/internal/config"
	"github.com/copilot-cli/copilot/internal/metrics"
	"github.com/copilot-cli/copilot/internal/providers"
	"github.com/copilot-cli/copilot/internal/tools"
)

// Status is the terminal or paused state of an agent run.
type Status string

const (
	StatusOK         Status = "ok"
	StatusNeedsInput Status = "needs_input"
	StatusErr        Status = "err"
)

// Stats reports iteration/tool/timing counters for one run, accumulated
// across resumes when the agent pauses for input.
type Stats struct {
	IterationsUsed  int
	ToolCallsMade   int
	ExecutionTimeMs int64
}

// AgentResult is the outcome of Run or ResumeWithUserInput.
type AgentResult struct {
	Status   Status
	Content  string
	Thinking string
	Stats    Stats
	Error    string

	state *pausedState // opaque continuation consumed by ResumeWithUserInput
}

// ConversationStore is the persistence seam the executor writes through.
// Implemented by the conversation database (C8). Every call here may fail
// silently from the executor's point of view — persistence errors are
// logged and otherwise ignored, since agent execution must not fail
// because a write to the transcript store failed.
type ConversationStore interface {
	CreateInvocation(ctx context.Context, sessionKey, agentName string) (invocationID string, err error)
	AppendMessage(ctx context.Context, invocationID string, index int, msg providers.Message) error
	FinishInvocation(ctx context.Context, invocationID, status, resultSummary string, stats Stats) error
}

// Config configures an Executor. The main conversation gets one long-lived
// Executor with Permissions set and AllowedTools nil (every registered tool
// is reachable, gated per-call by the permission manager). A named
// slash-command agent gets an Executor with Permissions nil and
// AllowedTools set to its capability mask, so it never prompts and
// anything outside the mask is refused before the registry is even
// consulted. Sub-agents spawned through sessions_spawn do not use an
// Executor; tools.SubagentManager runs their loop.
type Config struct {
	Provider         providers.Provider
	Model            string
	MaxIterations    int // 0 = unbounded
	ConversationMode bool
	ThinkingLevel    string

	Tools        *tools.Registry
	Permissions  *tools.PermissionManager // nil ⇒ capability-mask mode
	AllowedTools []string                 // capability mask / policy group-allow list; nil ⇒ unrestricted

	// Policy, when set, runs AllowedTools through the global config
	// profile/allow/deny pipeline (spec C3's static layer) instead of
	// treating AllowedTools as the final word. ToolPolicy is this agent's
	// per-agent override layer (config.AgentOverride.ToolPolicy); both are
	// nil for agents with no config-level tool policy.
	Policy      *tools.PolicyEngine
	ToolPolicy  *config.ToolPolicySpec
	IsSubagent  bool
	IsLeafAgent bool

	Convo     ConversationStore // nil ⇒ no persistence
	AgentName string

	// Depth is this executor's sub-agent nesting depth, threaded into tool
	// context so sessions_spawn can enforce spec §4.2's spawn-depth limit.
	// 0 for the main conversation and every top-level named agent.
	Depth int

	OnProgress ProgressFunc
	Metrics    *metrics.Metrics // nil ⇒ no instrumentation
}

// Executor runs the loop described above for one agent definition. It is
// safe to reuse across runs (e.g. the main conversation's Executor handles
// every turn of that conversation) and safe to construct fresh per call
// (sub-agent dispatch does this, since each spawn carries its own mask).
type Executor struct {
	cfg Config
}

func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// ConfigForAgent derives a Config for dispatching a named agent: it
// inherits this Executor's provider, model, tool registry and
// conversation store, but replaces the trust boundary with the
// capability mask spec's trust model requires for every agent that isn't
// the main conversation (Permissions nil, AllowedTools set, no
// conversation_mode unless the definition opts in).
func (e *Executor) ConfigForAgent(def *Definition) Config {
	caps := def.Capabilities
	cfg := Config{
		Provider:         e.cfg.Provider,
		Model:            caps.ModelOverride,
		MaxIterations:    caps.MaxIterations,
		ConversationMode: caps.ConversationMode,
		Tools:            e.cfg.Tools,
		Permissions:      nil,
		AllowedTools:     caps.AllowedTools,
		Policy:           e.cfg.Policy,
		ToolPolicy:       def.ToolPolicy,
		Convo:            e.cfg.Convo,
		AgentName:        def.Name,
		OnProgress:       e.cfg.OnProgress,
		Metrics:          e.cfg.Metrics,
	}
	if cfg.Model == "" {
		cfg.Model = e.cfg.Model
	}
	if caps.EnableThinking {
		cfg.ThinkingLevel = e.cfg.ThinkingLevel
	}
	return cfg
}

// RunRequest is one conversation turn's input.
type RunRequest struct {
	SessionKey   string
	SystemPrompt string
	UserTask     string
	History      []providers.Message // already windowed by the caller (C9)
}

// Run starts a fresh agent run from a system prompt, prior history, and a
// new user task.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*AgentResult, error) {
	messages := buildMessages(req.SystemPrompt, req.History, req.UserTask)

	st := &pausedState{sessionKey: req.SessionKey, messages: messages}
	if e.cfg.Convo != nil {
		id, err := e.cfg.Convo.CreateInvocation(ctx, req.SessionKey, e.cfg.AgentName)
		if err != nil {
			slog.Warn("agent: failed to create invocation", "error", err)
		} else {
			st.invocationID = id
		}
	}

	return e.runLoop(ctx, st)
}

// ResumeWithUserInput extends a needs_input result with a new user message
// and re-enters the loop. Elapsed time accumulates across resumes via the
// paused state's accumulatedTimeMs.
func (e *Executor) ResumeWithUserInput(ctx context.Context, prior *AgentResult, response string) (*AgentResult, error) {
	if prior == nil || prior.state == nil {
		return nil, fmt.Errorf("agent: result has no paused state to resume")
	}
	if prior.Status != StatusNeedsInput {
		return nil, fmt.Errorf("agent: cannot resume a result with status %q", prior.Status)
	}

	st := prior.state
	st.messages = append(st.messages, providers.Message{Role: "user", Content: response})
	return e.runLoop(ctx, st)
}

func (e *Executor) runLoop(ctx context.Context, st *pausedState) (*AgentResult, error) {
	ctx = tools.WithToolSessionKey(ctx, st.sessionKey)
	ctx = tools.WithToolDepth(ctx, e.cfg.Depth)

	start := time.Now()
	maxIter := e.cfg.MaxIterations
	toolDefs := e.toolDefs()
	allowed := toolDefNames(toolDefs)

	for maxIter == 0 || st.iterationsUsed < maxIter {
		st.iterationsUsed++
		emit(e.cfg.OnProgress, ProgressEvent{Type: "iteration", Iteration: st.iterationsUsed, MaxIter: maxIter})

		chatReq := providers.ChatRequest{
			Messages: st.messages,
			Tools:    toolDefs,
			Model:    e.cfg.Model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   8192,
				providers.OptTemperature: 0.7,
			},
		}
		if e.cfg.ThinkingLevel != "" && e.cfg.ThinkingLevel != "off" {
			if tc, ok := e.cfg.Provider.(providers.ThinkingCapable); ok && tc.SupportsThinking() {
				chatReq.Options[providers.OptThinkingLevel] = e.cfg.ThinkingLevel
			}
		}
		chatReq = providers.FilterRequest(e.cfg.Provider.Name(), chatReq)

		lmStart := time.Now()
		resp, err := e.cfg.Provider.Chat(ctx, chatReq)
		lmElapsed := time.Since(lmStart).Seconds()
		if err != nil {
			e.cfg.Metrics.RecordLLMRequest(e.cfg.Provider.Name(), e.cfg.Model, "error", lmElapsed, 0, 0)
			e.finish(ctx, st, "failed", "", e.stats(st, start))
			e.cfg.Metrics.RecordAgentRun(e.cfg.AgentName, "failed")
			return &AgentResult{
				Status: StatusErr,
				Error:  fmt.Errorf("LM call failed (iteration %d): %w", st.iterationsUsed, err).Error(),
				Stats:  e.stats(st, start),
			}, nil
		}
		promptTokens, completionTokens := 0, 0
		if resp.Usage != nil {
			promptTokens, completionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		e.cfg.Metrics.RecordLLMRequest(e.cfg.Provider.Name(), e.cfg.Model, "success", lmElapsed, promptTokens, completionTokens)

		// Take ownership of every tool-call field before the next iteration
		// potentially reuses provider-owned buffers for the following call.
		toolCalls := deepCopyToolCalls(resp.ToolCalls)

		assistantMsg := providers.Message{
			Role:                "assistant",
			Content:             SanitizeAssistantContent(resp.Content),
			ToolCalls:           toolCalls,
			RawAssistantContent: resp.RawAssistantContent,
		}
		st.messages = append(st.messages, assistantMsg)
		e.persist(ctx, st, assistantMsg)

		if len(toolCalls) == 0 {
			if e.cfg.ConversationMode {
				stats := e.stats(st, start)
				st.accumulatedTimeMs = stats.ExecutionTimeMs
				e.cfg.Metrics.RecordAgentRun(e.cfg.AgentName, "paused")
				return &AgentResult{
					Status:   StatusNeedsInput,
					Content:  assistantMsg.Content,
					Thinking: resp.Thinking,
					Stats:    stats,
					state:    st,
				}, nil
			}
			emit(e.cfg.OnProgress, ProgressEvent{Type: "complete"})
			e.finish(ctx, st, "completed", assistantMsg.Content, e.stats(st, start))
			e.cfg.Metrics.RecordAgentRun(e.cfg.AgentName, "completed")
			return &AgentResult{
				Status:   StatusOK,
				Content:  assistantMsg.Content,
				Thinking: resp.Thinking,
				Stats:    e.stats(st, start),
			}, nil
		}

		for _, tc := range toolCalls {
			emit(e.cfg.OnProgress, ProgressEvent{Type: "tool_start", Iteration: st.iterationsUsed, ToolName: tc.Name})

			toolStart := time.Now()
			result := e.dispatchTool(ctx, tc, allowed)
			elapsed := time.Since(toolStart).Milliseconds()

			toolStatus := "success"
			if result.IsError {
				toolStatus = "error"
			}
			e.cfg.Metrics.RecordToolExecution(tc.Name, toolStatus, float64(elapsed)/1000)

			emit(e.cfg.OnProgress, ProgressEvent{
				Type: "tool_complete", Iteration: st.iterationsUsed,
				ToolName: tc.Name, ToolError: result.IsError, ElapsedMs: elapsed,
			})

			if result.IsError {
				slog.Warn("agent: tool error", "tool", tc.Name, "error", truncateForLog(result.ForLLM))
			}

			toolMsg := providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID}
			st.messages = append(st.messages, toolMsg)
			e.persist(ctx, st, toolMsg)
			st.toolCallsMade++
		}
		// Tool results were appended; the next iteration processes them.
	}

	e.finish(ctx, st, "failed", "", e.stats(st, start))
	e.cfg.Metrics.RecordAgentRun(e.cfg.AgentName, "failed")
	return &AgentResult{
		Status: StatusErr,
		Error:  apperr.New(apperr.KindMaxIterations, fmt.Sprintf("max iterations reached (%d)", maxIter)).Error(),
		Stats:  e.stats(st, start),
	}, nil
}

// dispatchTool enforces the capability mask (when set), then — only for
// the main conversation, where Permissions is non-nil — the interactive
// permission manager, before calling the registry. A tool outside the
// capability mask never reaches the registry at all (spec §4.2 "Trust
// model": "a tool whose name is absent from allowed_tools returns a
// synthetic error without calling the registry").
func (e *Executor) dispatchTool(ctx context.Context, tc providers.ToolCall, allowed map[string]bool) *tools.Result {
	if allowed != nil && !allowed[tc.Name] {
		return tools.ErrorResult(fmt.Sprintf("Error: Tool '%s' not allowed for this agent", tc.Name))
	}

	t, ok := e.cfg.Tools.Get(tc.Name)
	if !ok {
		if e.cfg.Permissions != nil {
			e.cfg.Permissions.RecordFailedValidation(tc.Name, "")
		}
		return tools.ErrorResult(fmt.Sprintf("Error: unknown tool '%s'", tc.Name))
	}

	md := t.Metadata()
	if err := tools.ValidateArguments(md, tc.Arguments); err != nil {
		scope := tools.ScopeFor(t, tc.Arguments)
		if e.cfg.Permissions != nil {
			e.cfg.Permissions.RecordFailedValidation(tc.Name, scope)
		}
		return tools.ErrorResult(err.Error())
	}

	if e.cfg.Permissions != nil {
		scope := tools.ScopeFor(t, tc.Arguments)
		if err := e.cfg.Permissions.Authorize(ctx, md, scope); err != nil {
			return tools.ErrorResult(err.Error())
		}
	}

	result, err := e.cfg.Tools.Execute(ctx, tc.Name, tc.Arguments)
	if err != nil {
		return tools.ErrorResult(err.Error())
	}
	return result
}

// toolDefs restricts the wire-level tool list to the capability mask when
// one is set, so a masked-out tool isn't even offered to the model. When a
// PolicyEngine is configured, the mask is additionally run through the
// global config profile/allow/deny pipeline (spec C3's static layer) —
// this is how a user's tools.profile/allow/deny config settings narrow
// what even a fully-capable agent is offered.
func (e *Executor) toolDefs() []providers.ToolDefinition {
	if e.cfg.Policy != nil {
		return e.cfg.Policy.FilterTools(
			e.cfg.Tools, e.cfg.AgentName, e.cfg.Provider.Name(),
			e.cfg.ToolPolicy, e.cfg.AllowedTools, e.cfg.IsSubagent, e.cfg.IsLeafAgent,
		)
	}

	all := e.cfg.Tools.ProviderDefs()
	if e.cfg.AllowedTools == nil {
		return all
	}
	allowed := make(map[string]bool, len(e.cfg.AllowedTools))
	for _, n := range e.cfg.AllowedTools {
		allowed[n] = true
	}
	defs := make([]providers.ToolDefinition, 0, len(all))
	for _, d := range all {
		if allowed[d.Function.Name] {
			defs = append(defs, d)
		}
	}
	return defs
}

// toolDefNames extracts the set of tool names a toolDefs() result allows,
// shared between the wire-level offer and dispatchTool's gate so the two
// can never disagree.
func toolDefNames(defs []providers.ToolDefinition) map[string]bool {
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	return names
}

func (e *Executor) stats(st *pausedState, start time.Time) Stats {
	return Stats{
		IterationsUsed:  st.iterationsUsed,
		ToolCallsMade:   st.toolCallsMade,
		ExecutionTimeMs: st.accumulatedTimeMs + time.Since(start).Milliseconds(),
	}
}

func (e *Executor) persist(ctx context.Context, st *pausedState, msg providers.Message) {
	if e.cfg.Convo == nil || st.invocationID == "" {
		return
	}
	if err := e.cfg.Convo.AppendMessage(ctx, st.invocationID, st.persistedCount, msg); err != nil {
		slog.Warn("agent: failed to persist message", "error", err)
		return
	}
	st.persistedCount++
}

func (e *Executor) finish(ctx context.Context, st *pausedState, status, summary string, stats Stats) {
	if e.cfg.Convo == nil || st.invocationID == "" {
		return
	}
	if err := e.cfg.Convo.FinishInvocation(ctx, st.invocationID, status, summary, stats); err != nil {
		slog.Warn("agent: failed to finish invocation", "error", err)
	}
}

func deepCopyToolCalls(calls []providers.ToolCall) []providers.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]providers.ToolCall, len(calls))
	for i, c := range calls {
		args := make(map[string]interface{}, len(c.Arguments))
		for k, v := range c.Arguments {
			args[k] = v
		}
		var meta map[string]string
		if c.Metadata != nil {
			meta = make(map[string]string, len(c.Metadata))
			for k, v := range c.Metadata {
				meta[k] = v
			}
		}
		out[i] = providers.ToolCall{ID: c.ID, Name: c.Name, Arguments: args, Metadata: meta}
	}
	return out
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
