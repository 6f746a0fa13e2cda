// Package coordinator implements the concurrency and message-routing
// layer described in spec §4.5/§5: a pending-input FIFO that absorbs user
// input while a stream or agent run is in flight, and the Coordinator
// that drains it on the main loop's goroutine once the run ends (spec §5:
// "no DB call occurs off the main thread").
package coordinator

import (
	"strings"
	"sync"
)

// QuitToken is always processed immediately regardless of what else is
// in flight (spec §4.5 rule 3).
const QuitToken = "/quit"

// PendingQueue is the FIFO user input is appended to while a stream or
// agent execution owns the main conversation (spec §4.5 "Pending queue").
// Safe for concurrent Push from the input-reading goroutine and Drain
// from the main loop tick.
type PendingQueue struct {
	mu      sync.Mutex
	entries []string
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue { return &PendingQueue{} }

// Push appends one piece of submitted input, preserving arrival order.
func (q *PendingQueue) Push(input string) {
	q.mu.Lock()
	q.entries = append(q.entries, input)
	q.mu.Unlock()
}

// HasQuit reports whether /quit has been queued, without consuming the
// queue — checked first by the main loop so it can exit immediately even
// mid-stream (spec §4.5 rule 3).
func (q *PendingQueue) HasQuit() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if strings.TrimSpace(e) == QuitToken {
			return true
		}
	}
	return false
}

// Drained is the result of draining the pending queue: zero or more
// agent slash-commands to run in order, followed by (at most) one
// concatenated plain message.
type Drained struct {
	AgentCommands []AgentCommand
	Message       string // empty if there was nothing left to concatenate
}

// AgentCommand is one `/agent-name rest of line` entry pulled off the
// front of the queue.
type AgentCommand struct {
	AgentName string
	Rest      string
}

// KnownAgent reports whether name is a registered agent, the predicate
// Drain uses to decide whether a `/`-prefixed entry is a slash-command
// or just a message that happens to start with a slash.
type KnownAgent func(name string) bool

// Drain empties the queue and splits it per spec §4.5:
//  1. Entries beginning with `/` that name a known agent are returned, in
//     order, as agent slash commands.
//  2. Every other entry is concatenated with "\n\n" into one message.
//
// /quit is handled by the caller via HasQuit before Drain is ever called;
// if one slipped through anyway it is passed back as part of Message
// rather than silently dropped.
func Drain(q *PendingQueue, known KnownAgent) Drained {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	var d Drained
	var rest []string
	for _, e := range entries {
		if name, arg, ok := parseAgentCommand(e, known); ok {
			d.AgentCommands = append(d.AgentCommands, AgentCommand{AgentName: name, Rest: arg})
			continue
		}
		rest = append(rest, e)
	}
	d.Message = strings.Join(rest, "\n\n")
	return d
}

// parseAgentCommand recognizes "/name rest..." where name is a known
// agent. Returns ok=false for anything else, including slash-prefixed
// text that doesn't name a registered agent (treated as plain message
// content, not a misfired command).
func parseAgentCommand(entry string, known KnownAgent) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(entry)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	body := trimmed[1:]
	fields := strings.SplitN(body, " ", 2)
	name = fields[0]
	if name == "" || known == nil || !known(name) {
		return "", "", false
	}
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}
	return name, rest, true
}
