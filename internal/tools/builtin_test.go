package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func builtinRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	workspace := t.TempDir()
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, workspace); err != nil {
		t.Fatal(err)
	}
	return reg, workspace
}

// TestReadWriteFile verifies write_file then read_file round-trips inside
// the workspace.
func TestReadWriteFile(t *testing.T) {
	reg, _ := builtinRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "write_file", map[string]interface{}{
		"path": "notes/hello.txt", "content": "hi there",
	})
	if err != nil || res.IsError {
		t.Fatalf("write_file: %v / %+v", err, res)
	}

	res, err = reg.Execute(ctx, "read_file", map[string]interface{}{"path": "notes/hello.txt"})
	if err != nil || res.IsError {
		t.Fatalf("read_file: %v / %+v", err, res)
	}
	if res.ForLLM != "hi there" {
		t.Errorf("content = %q", res.ForLLM)
	}
}

// TestReadFileEscape verifies paths escaping the workspace are rejected.
func TestReadFileEscape(t *testing.T) {
	reg, _ := builtinRegistry(t)

	res, err := reg.Execute(context.Background(), "read_file", map[string]interface{}{
		"path": "../../etc/passwd",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.ForLLM, "escapes workspace") {
		t.Errorf("result = %+v", res)
	}
}

// TestListDir verifies directory listing with the default path.
func TestListDir(t *testing.T) {
	reg, workspace := builtinRegistry(t)
	os.MkdirAll(filepath.Join(workspace, "sub"), 0755)
	os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("x"), 0644)

	res, err := reg.Execute(context.Background(), "list_dir", map[string]interface{}{})
	if err != nil || res.IsError {
		t.Fatalf("list_dir: %v / %+v", err, res)
	}
	if !strings.Contains(res.ForLLM, "a.txt") || !strings.Contains(res.ForLLM, "sub/") {
		t.Errorf("listing = %q", res.ForLLM)
	}
}

// TestRunShell verifies command output capture and error exit reporting.
func TestRunShell(t *testing.T) {
	reg, _ := builtinRegistry(t)
	ctx := context.Background()

	res, err := reg.Execute(ctx, "run_shell", map[string]interface{}{"command": "echo hello"})
	if err != nil || res.IsError {
		t.Fatalf("run_shell: %v / %+v", err, res)
	}
	if strings.TrimSpace(res.ForLLM) != "hello" {
		t.Errorf("output = %q", res.ForLLM)
	}

	res, err = reg.Execute(ctx, "run_shell", map[string]interface{}{"command": "false"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Error("failing command should produce an error result")
	}
}
