package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestAssembler pins home and the global dir inside the temp tree so
// the search path is fully controlled.
func newTestAssembler(t *testing.T, workspace, home string) *Assembler {
	t.Helper()
	a, err := NewAssembler(workspace)
	if err != nil {
		t.Fatal(err)
	}
	a.home = home
	a.globalDir = filepath.Join(home, ".agents")
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// TestDefaultPrompt verifies the built-in prompt is used when no files
// exist.
func TestDefaultPrompt(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	if err := os.MkdirAll(ws, 0755); err != nil {
		t.Fatal(err)
	}

	a := newTestAssembler(t, ws, home)
	got := a.SystemPrompt()
	if !strings.Contains(got, "capable assistant") {
		t.Errorf("prompt = %q", got)
	}
}

// TestSystemFileNearestWins verifies a workspace SYSTEM.md beats one at a
// higher level.
func TestSystemFileNearestWins(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	writeFile(t, filepath.Join(home, "SYSTEM.md"), "home prompt")
	writeFile(t, filepath.Join(ws, "SYSTEM.md"), "workspace prompt")

	a := newTestAssembler(t, ws, home)
	got := a.SystemPrompt()
	if !strings.HasPrefix(got, "workspace prompt") {
		t.Errorf("prompt = %q", got)
	}
	if strings.Contains(got, "home prompt") {
		t.Errorf("higher-level SYSTEM.md leaked in: %q", got)
	}
}

// TestAgentsFilesConcatenated verifies every AGENTS.md level contributes
// under the project context heading, nearest first.
func TestAgentsFilesConcatenated(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	writeFile(t, filepath.Join(ws, "AGENTS.md"), "workspace rules")
	writeFile(t, filepath.Join(home, "AGENTS.md"), "home rules")
	writeFile(t, filepath.Join(home, ".agents", "AGENTS.md"), "global rules")

	a := newTestAssembler(t, ws, home)
	got := a.SystemPrompt()

	idx := strings.Index(got, "# Project Context")
	if idx < 0 {
		t.Fatalf("heading missing: %q", got)
	}
	wsIdx := strings.Index(got, "workspace rules")
	homeIdx := strings.Index(got, "home rules")
	globalIdx := strings.Index(got, "global rules")
	if wsIdx < idx || homeIdx < wsIdx || globalIdx < homeIdx {
		t.Errorf("order wrong: ws=%d home=%d global=%d heading=%d", wsIdx, homeIdx, globalIdx, idx)
	}
}

// TestAppendSystemLast verifies APPEND_SYSTEM.md lands after everything
// else, including the skills appendix.
func TestAppendSystemLast(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	writeFile(t, filepath.Join(ws, "AGENTS.md"), "project rules")
	writeFile(t, filepath.Join(ws, "APPEND_SYSTEM.md"), "final words")
	writeFile(t, filepath.Join(ws, "skills", "summarize", "SKILL.md"),
		"---\nname: summarize\ndescription: condenses text\n---\n")

	a := newTestAssembler(t, ws, home)
	got := a.SystemPrompt()

	finalIdx := strings.Index(got, "final words")
	skillsIdx := strings.Index(got, "Available Skills")
	rulesIdx := strings.Index(got, "project rules")
	if skillsIdx < 0 || finalIdx < 0 || rulesIdx < 0 {
		t.Fatalf("sections missing: %q", got)
	}
	if finalIdx < skillsIdx || skillsIdx < rulesIdx {
		t.Errorf("order wrong: rules=%d skills=%d final=%d", rulesIdx, skillsIdx, finalIdx)
	}
	if !strings.Contains(got, "summarize") {
		t.Errorf("skill missing: %q", got)
	}
}

// TestPromptCaching verifies the prompt is cached until invalidated.
func TestPromptCaching(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	writeFile(t, filepath.Join(ws, "SYSTEM.md"), "version one")

	a := newTestAssembler(t, ws, home)
	if got := a.SystemPrompt(); !strings.Contains(got, "version one") {
		t.Fatalf("prompt = %q", got)
	}

	writeFile(t, filepath.Join(ws, "SYSTEM.md"), "version two")
	if got := a.SystemPrompt(); !strings.Contains(got, "version one") {
		t.Errorf("cache not honored: %q", got)
	}

	a.Invalidate()
	if got := a.SystemPrompt(); !strings.Contains(got, "version two") {
		t.Errorf("invalidate not honored: %q", got)
	}
}

// TestWatchInvalidates verifies a file change triggers reassembly.
func TestWatchInvalidates(t *testing.T) {
	home := t.TempDir()
	ws := filepath.Join(home, "project")
	writeFile(t, filepath.Join(ws, "SYSTEM.md"), "before")

	a := newTestAssembler(t, ws, home)
	if err := a.Watch(); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if got := a.SystemPrompt(); !strings.Contains(got, "before") {
		t.Fatalf("prompt = %q", got)
	}

	writeFile(t, filepath.Join(ws, "SYSTEM.md"), "after")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(a.SystemPrompt(), "after") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("prompt never picked up the change")
}

// TestEnsureWorkspaceFiles verifies seeding creates missing files once.
func TestEnsureWorkspaceFiles(t *testing.T) {
	ws := t.TempDir()

	created, err := EnsureWorkspaceFiles(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0] != AgentsFile {
		t.Errorf("created = %v", created)
	}

	// Second run must not recreate or overwrite.
	writeFile(t, filepath.Join(ws, AgentsFile), "customized")
	created, err = EnsureWorkspaceFiles(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Errorf("created = %v", created)
	}
	data, _ := os.ReadFile(filepath.Join(ws, AgentsFile))
	if string(data) != "customized" {
		t.Error("existing file was overwritten")
	}
}
