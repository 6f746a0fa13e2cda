package agent

// ProgressEvent is emitted during Run/ResumeWithUserInput so a caller (the
// TUI, a test harness) can render iteration/tool progress without polling.
type ProgressEvent struct {
	Type       string // "iteration", "tool_start", "tool_complete", "complete"
	Iteration  int
	MaxIter    int    // 0 = unbounded
	ToolName   string
	ToolError  bool
	ElapsedMs  int64
}

// ProgressFunc receives ProgressEvents. A nil func is a valid no-op sink.
type ProgressFunc func(ProgressEvent)

func emit(progress ProgressFunc, ev ProgressEvent) {
	if progress != nil {
		progress(ev)
	}
}
