package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/copilot-cli/copilot/internal/agent"
	"github.com/copilot-cli/copilot/internal/convo"
	"github.com/copilot-cli/copilot/internal/providers"
)

// MainSessionKey identifies the one main conversation per process (spec
// §3: "the main conversation" is singular; named agents and sub-agents
// each get their own session key on dispatch).
const MainSessionKey = "main"

// activity is whichever of the stream/agent threads currently owns the
// main conversation (spec §5: "one at a time" for each).
type activity int

const (
	activityNone activity = iota
	activityStream
	activityAgent
)

// Coordinator is the cooperative single-threaded main loop of spec §5: it
// owns the main conversation's Executor, the named-agent registry used to
// resolve slash commands, and the pending-input queue that absorbs
// submissions while a run is in flight. Tool execution, policy checks and
// all SQLite access happen on this loop's goroutine only. The provider's
// streaming read is owned internally by the provider client, and a named
// agent dispatched from the queue runs synchronously on this same
// goroutine; both hand their results back as return values
// (ChatResponse, AgentResult).
type Coordinator struct {
	mu       sync.Mutex
	busy     activity
	queue    *PendingQueue
	mainExec *agent.Executor
	agents   *agent.Registry
	view     *convo.View
	store    *convo.Store

	// OnAgentOutput is invoked with a named agent's result once its run
	// completes, so the caller (render, once built) can surface it.
	OnAgentOutput func(agentName string, result *agent.AgentResult)

	// MainSystemPrompt is prepended to every main-conversation turn.
	MainSystemPrompt string
}

// New builds a Coordinator around the main conversation's executor, the
// agent registry slash commands resolve against, and the conversation
// store/view that persists and windows the main transcript.
func New(mainExec *agent.Executor, agents *agent.Registry, store *convo.Store, view *convo.View) *Coordinator {
	return &Coordinator{
		queue:    NewPendingQueue(),
		mainExec: mainExec,
		agents:   agents,
		store:    store,
		view:     view,
	}
}

// Submit is the entry point for user input (spec §4.5). If the main
// conversation is idle, it dispatches immediately; otherwise it queues the
// input and returns, to be drained once the in-flight activity ends. /quit
// is handled by the caller's input-reading loop before reaching here in
// the idle case, but if queued while busy it is still honored the moment
// the current activity completes (spec §4.5 rule 3): finishTurn stops
// before draining and leaves it queued for Quit to report.
func (c *Coordinator) Submit(ctx context.Context, input string) (*agent.AgentResult, error) {
	c.mu.Lock()
	if c.busy != activityNone {
		c.queue.Push(input)
		c.mu.Unlock()
		return nil, nil
	}
	c.busy = activityAgent
	c.mu.Unlock()

	result, err := c.runMain(ctx, input)
	c.finishTurn(ctx)
	return result, err
}

// runMain drives one turn of the main conversation's executor against the
// windowed history held in c.view, appending the user's input and the
// executor's reply to the transcript so the next turn's history includes
// them and a reattached view can replay this turn (spec §3.1/§4.5).
func (c *Coordinator) runMain(ctx context.Context, userTask string) (*agent.AgentResult, error) {
	history := c.currentHistory()

	if _, err := c.view.Append(ctx, convo.Message{
		Role:      convo.RoleUser,
		Content:   userTask,
		Timestamp: time.Now(),
	}); err != nil {
		slog.Warn("coordinator: persisting user message failed", "error", err)
	}

	result, err := c.mainExec.Run(ctx, agent.RunRequest{
		SessionKey:   MainSessionKey,
		SystemPrompt: c.MainSystemPrompt,
		UserTask:     userTask,
		History:      history,
	})
	if err != nil {
		return result, err
	}

	if _, appendErr := c.view.Append(ctx, convo.Message{
		Role:      convo.RoleAssistant,
		Content:   result.Content,
		Thinking:  result.Thinking,
		Timestamp: time.Now(),
	}); appendErr != nil {
		slog.Warn("coordinator: persisting assistant message failed", "error", appendErr)
	}

	return result, nil
}

// currentHistory flattens the view's loaded window into provider messages
// for the next turn's prompt (unloaded entries contribute nothing — the
// executor's own history sanitization tolerates a gap, since a gap here
// only means older context isn't resent, not that it's lost from disk).
func (c *Coordinator) currentHistory() []providers.Message {
	var out []providers.Message
	for i := 0; i < c.view.Len(); i++ {
		m, ok := c.view.At(i)
		if !ok {
			continue
		}
		role := string(m.Role)
		if role == string(convo.RoleDisplayOnly) {
			continue
		}
		out = append(out, providers.Message{
			Role:       role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

// finishTurn marks the main conversation idle again and drains whatever
// accumulated in the pending queue while it was busy (spec §4.5).
func (c *Coordinator) finishTurn(ctx context.Context) {
	c.mu.Lock()
	c.busy = activityNone
	c.mu.Unlock()

	// A queued /quit stops draining; it stays queued for Quit to report.
	if c.queue.HasQuit() {
		return
	}

	drained := Drain(c.queue, c.knownAgent)
	for _, cmd := range drained.AgentCommands {
		c.dispatchAgentCommand(ctx, cmd)
	}
	if drained.Message == "" {
		return
	}

	c.mu.Lock()
	c.busy = activityAgent
	c.mu.Unlock()
	if _, err := c.runMain(ctx, drained.Message); err != nil {
		slog.Warn("coordinator: drained message dispatch failed", "error", err)
	}
	c.mu.Lock()
	c.busy = activityNone
	c.mu.Unlock()
	// A drained dispatch can itself queue further input (another submission
	// arriving mid-run), so drain again until the queue is actually empty.
	c.finishTurn(ctx)
}

// knownAgent is the PendingQueue's KnownAgent predicate.
func (c *Coordinator) knownAgent(name string) bool {
	if c.agents == nil {
		return false
	}
	_, ok := c.agents.Get(name)
	return ok
}

// dispatchAgentCommand runs a named agent end to end in its own session,
// capability-masked per spec's trust model (the Executor built here always
// carries AllowedTools from the agent's Capabilities, never the main
// conversation's Permissions).
func (c *Coordinator) dispatchAgentCommand(ctx context.Context, cmd AgentCommand) {
	def, ok := c.agents.Get(cmd.AgentName)
	if !ok {
		slog.Warn("coordinator: slash command named an unknown agent", "agent", cmd.AgentName)
		return
	}

	execCfg := c.mainExec.ConfigForAgent(def)
	exec := agent.New(execCfg)

	sessionKey := fmt.Sprintf("agent:%s", def.Name)
	result, err := exec.Run(ctx, agent.RunRequest{
		SessionKey:   sessionKey,
		SystemPrompt: def.SystemPrompt,
		UserTask:     cmd.Rest,
	})
	if err != nil {
		slog.Warn("coordinator: agent run failed", "agent", def.Name, "error", err)
		return
	}

	// Recorded display_only with agent_source set so it shows in the
	// transcript but currentHistory's RoleDisplayOnly skip keeps it out of
	// the main LM's context window (spec: agent_source "used to filter
	// sub-agent output out of the main LM context window").
	if _, err := c.view.Append(ctx, convo.Message{
		Role:        convo.RoleDisplayOnly,
		Content:     result.Content,
		AgentSource: def.Name,
		Timestamp:   time.Now(),
	}); err != nil {
		slog.Warn("coordinator: persisting agent output failed", "error", err)
	}

	if c.OnAgentOutput != nil {
		c.OnAgentOutput(def.Name, result)
	}
}

// RecordSubagentOutput appends a spawned sub-agent's final result to the
// main transcript as display_only with agent_source set to its label, the
// same treatment dispatchAgentCommand gives a named agent's output — it
// shows in the transcript but currentHistory's RoleDisplayOnly skip keeps
// it out of the main LM's context window. The spawning tool call's own
// tool-result message (already in history) is what tells the main LM the
// sub-agent finished; this is for a human-facing view only.
func (c *Coordinator) RecordSubagentOutput(ctx context.Context, label, content string) {
	if _, err := c.view.Append(ctx, convo.Message{
		Role:        convo.RoleDisplayOnly,
		Content:     content,
		AgentSource: label,
		Timestamp:   time.Now(),
	}); err != nil {
		slog.Warn("coordinator: persisting subagent output failed", "error", err)
	}
	if c.OnAgentOutput != nil {
		c.OnAgentOutput(label, &agent.AgentResult{Content: content})
	}
}

// Quit reports whether /quit has been queued, for the caller's read-input
// step to check before blocking again (spec §4.5 rule 3, spec §5
// "/quit terminates the loop after joining both background threads").
func (c *Coordinator) Quit() bool {
	return c.queue.HasQuit()
}
