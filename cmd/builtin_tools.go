package cmd

import (
	"time"

	"github.com/copilot-cli/copilot/internal/tools"
)

// registerBuiltinTools installs the handful of compiled-in tools needed
// to exercise the executor end to end against a real workspace (spec's
// module map scopes further tool bodies, e.g. a DB-backed tool catalog
// with per-tool enable/disable, out of this core). restrict=true keeps
// every filesystem/exec tool confined to workDir.
func registerBuiltinTools(reg *tools.Registry, workDir string) {
	const restrict = true

	reg.Register(tools.NewReadFileTool(workDir, restrict))
	reg.Register(tools.NewWriteFileTool(workDir, restrict))
	reg.Register(tools.NewListFilesTool(workDir, restrict))
	reg.Register(tools.NewEditFileTool(workDir, restrict))
	reg.Register(tools.NewSearchTool(workDir, restrict))
	reg.Register(tools.NewGlobTool(workDir, restrict))
	reg.Register(tools.NewExecTool(workDir, restrict))

	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		DDGEnabled:    true,
		DDGMaxResults: 5,
		CacheTTL:      10 * time.Minute,
	}))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{
		MaxChars: 20000,
		CacheTTL: 10 * time.Minute,
	}))
}
