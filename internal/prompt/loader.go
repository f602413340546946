// Package prompt implements a two-layer prompt loading system for role
// system prompts:
//
//   - embedded defaults in prompts/*.md, shipped with the binary;
//   - runtime overrides in a prompts directory, taking precedence;
//
// plus an optional user rules file (rules.md) appended to every role prompt
// after prompt-injection filtering. The PromptLoader is safe for concurrent
// use.
package prompt

import (
	"embed"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// defaultPrompts embeds the role prompt files shipped with the binary.
//
//go:embed prompts/*
var defaultPrompts embed.FS

// promptInjectionPatterns contains lowercased substrings that indicate
// prompt injection attempts. Lines matching any pattern are dropped from
// user rules with a warning.
var promptInjectionPatterns = []string{
	"ignore previous",
	"ignore above",
	"ignore all previous",
	"disregard all",
	"disregard previous",
	"forget previous",
	"forget all previous",
	"override instructions",
	"override previous",
	"new instructions:",
	"from now on",
}

// PromptLoader reads role prompt files and the user rules file, caching
// contents after the first read. Call Reload to invalidate the cache.
type PromptLoader struct {
	promptsDir string // runtime override directory (may be empty)
	rulesPath  string // path to rules.md (may be empty)
	cache      map[string]string
	mu         sync.RWMutex
}

// NewPromptLoader creates a loader reading overrides from promptsDir
// (falling back to embedded defaults) and user rules from rulesPath.
// Both paths may be empty; the loader degrades to embedded defaults only.
func NewPromptLoader(promptsDir, rulesPath string) *PromptLoader {
	return &PromptLoader{
		promptsDir: promptsDir,
		rulesPath:  rulesPath,
		cache:      make(map[string]string),
	}
}

// Load returns the content of the named prompt file (e.g. "architect.md").
//
// Priority:
//  1. Disk file at promptsDir/name (runtime override)
//  2. Embedded default at prompts/name
//  3. Empty string (silent, file simply absent)
func (l *PromptLoader) Load(name string) string {
	l.mu.RLock()
	if cached, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return cached
	}
	l.mu.RUnlock()

	content := l.read(name)

	l.mu.Lock()
	l.cache[name] = content
	l.mu.Unlock()
	return content
}

func (l *PromptLoader) read(name string) string {
	if l.promptsDir != "" {
		if data, err := os.ReadFile(filepath.Join(l.promptsDir, name)); err == nil {
			return string(data)
		}
	}
	if data, err := defaultPrompts.ReadFile("prompts/" + name); err == nil {
		return string(data)
	}
	return ""
}

// RolePrompt returns the system prompt for a role name, appending filtered
// user rules when present. Unknown roles get an empty base prompt.
func (l *PromptLoader) RolePrompt(roleName string) string {
	base := l.Load(roleName + ".md")
	rules := l.LoadUserRules()
	if rules == "" {
		return base
	}
	if base == "" {
		return "## User Rules\n" + rules
	}
	return base + "\n\n## User Rules\n" + rules
}

// LoadUserRules reads rules.md, dropping lines that look like prompt
// injection attempts.
func (l *PromptLoader) LoadUserRules() string {
	const cacheKey = "\x00rules"

	l.mu.RLock()
	if cached, ok := l.cache[cacheKey]; ok {
		l.mu.RUnlock()
		return cached
	}
	l.mu.RUnlock()

	content := ""
	if l.rulesPath != "" {
		if data, err := os.ReadFile(l.rulesPath); err == nil {
			content = filterInjection(string(data))
		}
	}

	l.mu.Lock()
	l.cache[cacheKey] = content
	l.mu.Unlock()
	return content
}

// Reload invalidates the cache so the next Load re-reads from disk.
func (l *PromptLoader) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]string)
}

// filterInjection drops lines containing known injection patterns.
func filterInjection(content string) string {
	lines := strings.Split(content, "\n")
	var kept []string
	for _, line := range lines {
		lower := strings.ToLower(line)
		dropped := false
		for _, pattern := range promptInjectionPatterns {
			if strings.Contains(lower, pattern) {
				log.Printf("[Prompt] Dropped suspicious rules line: %s", strings.TrimSpace(line))
				dropped = true
				break
			}
		}
		if !dropped {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
