// Package bootstrap assembles the system prompt from layered workspace
// files and seeds new workspaces with starter templates.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pigforge/gopig/internal/skills"
)

// Layered prompt files, searched from the workspace up to home.
const (
	SystemFile       = "SYSTEM.md"
	AgentsFile       = "AGENTS.md"
	AppendSystemFile = "APPEND_SYSTEM.md"
	SkillsDirName    = "skills"
)

const defaultSystemPrompt = `You are a capable assistant with access to tools.
Use them when they help; answer directly when they don't.
Be concise. When a tool fails, explain what went wrong and try another way.`

// Assembler builds the composite system prompt. The result is cached until
// Invalidate is called (the watcher does this on file changes).
type Assembler struct {
	workspace string
	globalDir string // defaults to ~/.agents
	home      string

	mu      sync.Mutex
	cached  string
	valid   bool
	watcher *watcher
}

func NewAssembler(workspace string) (*Assembler, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	a := &Assembler{
		workspace: abs,
		home:      home,
	}
	if home != "" {
		a.globalDir = filepath.Join(home, ".agents")
	}
	return a, nil
}

// SystemPrompt returns the assembled prompt, rebuilding it when stale.
func (a *Assembler) SystemPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.valid {
		a.cached = a.assemble()
		a.valid = true
	}
	return a.cached
}

// Invalidate drops the cached prompt so the next call reassembles.
func (a *Assembler) Invalidate() {
	a.mu.Lock()
	a.valid = false
	a.mu.Unlock()
}

// levels returns the search path, nearest first: the workspace, each parent
// directory up to and including home, then the global ~/.agents dir.
func (a *Assembler) levels() []string {
	var dirs []string
	seen := make(map[string]bool)
	add := func(dir string) {
		if dir != "" && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	dir := a.workspace
	for {
		add(dir)
		if a.home != "" && dir == a.home {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		// Never walk past home into / when the workspace lives under it.
		if a.home != "" && !strings.HasPrefix(dir, a.home) {
			break
		}
		dir = parent
	}
	add(a.globalDir)
	return dirs
}

func (a *Assembler) assemble() string {
	levels := a.levels()

	// SYSTEM.md replaces the default prompt; the nearest one wins.
	base := defaultSystemPrompt
	for _, dir := range levels {
		if content, ok := readPromptFile(dir, SystemFile); ok {
			base = content
			break
		}
	}

	var b strings.Builder
	b.WriteString(base)

	// Every AGENTS.md contributes, nearest first, under one heading.
	var agents []string
	for _, dir := range levels {
		if content, ok := readPromptFile(dir, AgentsFile); ok {
			agents = append(agents, content)
		}
	}
	if len(agents) > 0 {
		b.WriteString("\n\n# Project Context\n\n")
		b.WriteString(strings.Join(agents, "\n\n"))
	}

	if appendix := skills.Summary(skills.Discover(filepath.Join(a.workspace, SkillsDirName))); appendix != "" {
		b.WriteString("\n\n")
		b.WriteString(appendix)
	}

	// APPEND_SYSTEM.md always comes last.
	for _, dir := range levels {
		if content, ok := readPromptFile(dir, AppendSystemFile); ok {
			b.WriteString("\n\n")
			b.WriteString(content)
		}
	}

	return b.String()
}

func readPromptFile(dir, name string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cannot read prompt file", "path", filepath.Join(dir, name), "error", err)
		}
		return "", false
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", false
	}
	return content, true
}
