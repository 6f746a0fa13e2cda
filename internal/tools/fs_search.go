package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const searchMaxMatches = 200

// SearchTool greps for a regular expression across the workspace,
// restricted the same way read_file is.
type SearchTool struct {
	workspace string
	restrict  bool
}

func NewSearchTool(workspace string, restrict bool) *SearchTool {
	return &SearchTool{workspace: workspace, restrict: restrict}
}

func (t *SearchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "search",
		Description: "Search file contents for a regular expression pattern",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string", "description": "Regular expression to search for"},
				"path":    map[string]interface{}{"type": "string", "description": "Directory to search, relative to the workspace (default: workspace root)"},
				"glob":    map[string]interface{}{"type": "string", "description": "Only search files matching this glob (e.g. '*.go')"},
			},
			"required": []string{"pattern"},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required"), nil
	}
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	filter, _ := args["glob"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	root, err := resolvePath(path, t.workspace, t.restrict)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	var matches []string
	err = filepath.Walk(root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= searchMaxMatches {
			return nil
		}
		if filter != "" && !matchGlob(filter, info.Name()) {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				rel, _ := filepath.Rel(t.workspace, p)
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, lineNum, strings.TrimSpace(line)))
				if len(matches) >= searchMaxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(matches) == 0 {
		return SilentResult("no matches found"), nil
	}
	out := strings.Join(matches, "\n")
	if len(matches) >= searchMaxMatches {
		out += fmt.Sprintf("\n... (truncated at %d matches)", searchMaxMatches)
	}
	return SilentResult(out), nil
}

// GlobTool lists files matching a glob pattern under the workspace.
type GlobTool struct {
	workspace string
	restrict  bool
}

func NewGlobTool(workspace string, restrict bool) *GlobTool {
	return &GlobTool{workspace: workspace, restrict: restrict}
}

func (t *GlobTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "glob",
		Description: "Find files matching a glob pattern (e.g. '*.go' or 'internal/**')",
		Risk:        RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{"type": "string", "description": "Glob pattern, relative to the workspace"},
			},
			"required": []string{"pattern"},
		},
	}
}

func (t *GlobTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required"), nil
	}

	var results []string
	err := filepath.Walk(t.workspace, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(t.workspace, p)
		if err != nil {
			return nil
		}
		if matchGlob(pattern, rel) {
			results = append(results, rel)
		}
		return nil
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("glob failed: %v", err)), nil
	}

	sort.Strings(results)
	if len(results) == 0 {
		return SilentResult("no files matched"), nil
	}
	return SilentResult(strings.Join(results, "\n")), nil
}
