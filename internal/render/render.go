// Package render is the terminal rendering event sidecar (spec §6: "The
// program is a single interactive TUI binary"). Layout, input handling
// and the actual frame drawing are out of scope for this core (spec §1
// non-goals exclude the UI shell); this package is the seam the
// coordinator and virtualization layer emit into, so a concrete terminal
// front-end has a stable, already-measured event stream to render rather
// than needing to re-derive heights or track streaming state itself.
package render

import "github.com/mattn/go-runewidth"

// EventKind distinguishes the shapes of render event this package emits.
type EventKind string

const (
	EventMessageAppended EventKind = "message_appended"
	EventMessageUpdated  EventKind = "message_updated" // streaming content growing in place
	EventMessageEvicted  EventKind = "message_evicted"
	EventPermissionAsk   EventKind = "permission_ask"
	EventAgentToolStart  EventKind = "agent_tool_start"
	EventAgentToolDone   EventKind = "agent_tool_complete"
)

// Event is one unit of rendering work: enough to draw or update a line in
// the transcript without the renderer needing to re-measure from raw
// bytes (spec §4.5's height estimate travels with the event).
type Event struct {
	Kind            EventKind
	LocalIndex      int
	MessageID       int64
	Content         string
	EstimatedHeight float64
}

// Sink receives render events. A concrete terminal front-end implements
// this; tests can substitute a recording fake.
type Sink interface {
	Render(Event)
}

// NopSink discards every event — the default when no terminal front-end
// is attached (e.g. running headless for `copilot task` subcommands).
type NopSink struct{}

func (NopSink) Render(Event) {}

// DisplayWidth returns the terminal column width of s, accounting for
// wide CJK and zero-width combining runes, the same character-width
// primitive the virtualization height estimator uses so a message's
// estimated height and its actual rendered width never disagree.
func DisplayWidth(s string) int {
	return runewidth.StringWidth(s)
}
