package tools

import (
	"path/filepath"
	"strings"
)

// matchGlob implements the minimal path-matching dialect the permission
// manager's per-scope policies use (spec §4.3): an exact path, a
// "*.ext" suffix pattern, or a "prefix/**" recursive-directory pattern.
// filepath.Match alone doesn't support "**", so that case is handled
// separately.
func matchGlob(pattern, path string) bool {
	if pattern == path {
		return true
	}

	// Spec §4.3: "*" means match anything, including a multi-segment
	// scope — filepath.Match's "*" doesn't cross "/", so this needs its
	// own case rather than falling through to filepath.Match below.
	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}

	if ok, err := filepath.Match(pattern, path); err == nil && ok {
		return true
	}

	// Allow a bare "*.ext" pattern to match regardless of directory,
	// since filepath.Match's "*" doesn't cross path separators.
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(path, pattern[1:])
	}

	return false
}

// matchAny reports whether path matches any of patterns.
func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if matchGlob(p, path) {
			return true
		}
	}
	return false
}
