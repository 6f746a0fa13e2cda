package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// frontMatterDelim is the YAML front-matter fence a user-defined agent
// file opens and closes with, same convention as a markdown blog post.
const frontMatterDelim = "---"

// frontMatter is the YAML block at the top of a user-defined agent file.
// The markdown body that follows it becomes the system prompt verbatim.
type frontMatter struct {
	Name         string       `yaml:"name"`
	Description  string       `yaml:"description"`
	Capabilities Capabilities `yaml:"capabilities"`
}

// ParseAgentFile splits a markdown+YAML-front-matter agent file into a
// Definition. The file name (minus extension) is used as the agent name
// when front matter omits it, so `code-reviewer.md` with no `name:` key
// still registers as "code-reviewer".
func ParseAgentFile(path string, data []byte) (*Definition, error) {
	text := string(data)
	text = strings.TrimLeft(text, "﻿ \t\r\n")

	if !strings.HasPrefix(text, frontMatterDelim) {
		return nil, fmt.Errorf("agent file %s: missing YAML front matter (expected leading %q)", path, frontMatterDelim)
	}
	rest := text[len(frontMatterDelim):]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end == -1 {
		return nil, fmt.Errorf("agent file %s: unterminated front matter", path)
	}
	yamlBlock := rest[:end]
	body := strings.TrimLeft(rest[end+len("\n"+frontMatterDelim):], "\r\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return nil, fmt.Errorf("agent file %s: invalid front matter: %w", path, err)
	}
	fm.Capabilities.SetDefaults()

	name := fm.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	def := &Definition{
		Name:         name,
		Description:  fm.Description,
		SystemPrompt: strings.TrimSpace(body),
		Capabilities: fm.Capabilities,
		Source:       path,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Loader discovers user-defined agent files under a directory (spec §6:
// "markdown files with YAML front-matter for user-defined agents,
// discovered under a known path") and keeps the Registry in sync with
// them, including on a subsequent edit or deletion while the program is
// running.
type Loader struct {
	dir      string
	registry *Registry
	logger   *slog.Logger

	watcher     *fsnotify.Watcher
	watchCancel func()
	watchWg     sync.WaitGroup
}

func NewLoader(dir string, registry *Registry) *Loader {
	return &Loader{
		dir:      dir,
		registry: registry,
		logger:   slog.Default().With("component", "agent_loader"),
	}
}

// LoadAll scans the agents directory once, registering every valid
// `*.md` file found. A malformed file is logged and skipped rather than
// aborting the scan — one bad agent definition shouldn't break every
// other one.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("agent loader: reading %s: %w", l.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path); err != nil {
			l.logger.Warn("skipping invalid agent file", "path", path, "error", err)
		}
	}
	return nil
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	def, err := ParseAgentFile(path, data)
	if err != nil {
		return err
	}
	return l.registry.Register(def)
}

// agentNameForPath recovers the registry key a now-deleted file would
// have registered under, so Unregister can find it without re-reading
// the (gone) file.
func (l *Loader) agentNameForPath(path string) string {
	for _, def := range l.registry.List() {
		if def.Source == path {
			return def.Name
		}
	}
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Watch starts a debounced fsnotify watch on the agents directory so
// edits made while the program is running (via an external editor, or
// the `/agents` modal writing straight to disk) take effect without a
// restart.
func (l *Loader) Watch() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("agent loader: creating %s: %w", l.dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("agent loader: starting watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("agent loader: watching %s: %w", l.dir, err)
	}
	l.watcher = watcher

	done := make(chan struct{})
	l.watchCancel = func() { close(done) }

	l.watchWg.Add(1)
	go l.watchLoop(done)
	return nil
}

func (l *Loader) watchLoop(done <-chan struct{}) {
	defer l.watchWg.Done()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	const debounce = 250 * time.Millisecond

	schedule := func(path string, fn func()) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Stop()
		}
		timers[path] = time.AfterFunc(debounce, fn)
	}

	for {
		select {
		case <-done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			path := event.Name
			switch {
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				schedule(path, func() {
					l.registry.Unregister(l.agentNameForPath(path))
					l.logger.Info("unregistered agent", "path", path)
				})
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				schedule(path, func() {
					if err := l.loadFile(path); err != nil {
						l.logger.Warn("reload failed for agent file", "path", path, "error", err)
					} else {
						l.logger.Info("reloaded agent", "path", path)
					}
				})
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("agent watch error", "error", err)
		}
	}
}

// Close stops the watch goroutine, if one was started.
func (l *Loader) Close() error {
	if l.watchCancel != nil {
		l.watchCancel()
	}
	var err error
	if l.watcher != nil {
		err = l.watcher.Close()
	}
	l.watchWg.Wait()
	return err
}
