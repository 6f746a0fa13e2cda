// Package logging configures the process-wide slog handler. Every
// component logs through log/slog with structured key/value pairs,
// matching the teacher's usage throughout internal/agent and
// internal/tools — never fmt.Println for diagnostics.
package logging

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Options configures Init.
type Options struct {
	Verbose bool // enable debug-level logging
	JSON    bool // force JSON output even on a TTY
}

// Init installs the default slog handler for the process. Text output
// (human-friendly) is used when stderr is an interactive TTY; JSON output
// is used otherwise (stderr piped or redirected to a file) so downstream
// tooling can parse records line by line.
func Init(opts Options) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON || !term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	slog.SetDefault(slog.New(handler))
}
