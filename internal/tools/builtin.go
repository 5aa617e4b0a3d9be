package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	shellTimeout    = 30 * time.Second
	shellOutputCap  = 10 * 1024
	maxReadFileSize = 512 * 1024
)

// RegisterBuiltins adds the workspace file and shell tools to a registry.
func RegisterBuiltins(reg *Registry, workspace string) error {
	builtins := []Descriptor{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Params: []Param{
				{Name: "path", Type: "string", Description: "Path to the file to read", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
				path, _ := args["path"].(string)
				resolved, err := resolvePath(path, workspace)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				info, err := os.Stat(resolved)
				if err != nil {
					return ErrorResult(fmt.Sprintf("failed to read file: %v", err)), nil
				}
				if info.Size() > maxReadFileSize {
					return ErrorResult(fmt.Sprintf("file too large: %d bytes (limit %d)", info.Size(), maxReadFileSize)), nil
				}
				data, err := os.ReadFile(resolved)
				if err != nil {
					return ErrorResult(fmt.Sprintf("failed to read file: %v", err)), nil
				}
				return SilentResult(string(data)), nil
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating parent directories as needed",
			Params: []Param{
				{Name: "path", Type: "string", Description: "Path to the file to write", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				resolved, err := resolvePath(path, workspace)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
					return ErrorResult(fmt.Sprintf("failed to create directory: %v", err)), nil
				}
				if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
					return ErrorResult(fmt.Sprintf("failed to write file: %v", err)), nil
				}
				return SilentResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
			},
		},
		{
			Name:        "list_dir",
			Description: "List the entries of a directory",
			Params: []Param{
				{Name: "path", Type: "string", Description: "Directory to list", Default: "."},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
				path, _ := args["path"].(string)
				resolved, err := resolvePath(path, workspace)
				if err != nil {
					return ErrorResult(err.Error()), nil
				}
				entries, err := os.ReadDir(resolved)
				if err != nil {
					return ErrorResult(fmt.Sprintf("failed to list directory: %v", err)), nil
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					name := e.Name()
					if e.IsDir() {
						name += "/"
					}
					names = append(names, name)
				}
				sort.Strings(names)
				if len(names) == 0 {
					return SilentResult("(empty directory)"), nil
				}
				return SilentResult(strings.Join(names, "\n")), nil
			},
		},
		{
			Name:        "run_shell",
			Description: "Execute a shell command in the workspace and return its output",
			Params: []Param{
				{Name: "command", Type: "string", Description: "The shell command to execute", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (*Result, error) {
				command, _ := args["command"].(string)
				return runShell(ctx, command, workspace), nil
			},
		},
	}

	for _, d := range builtins {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func runShell(ctx context.Context, command, workspace string) *Result {
	ctx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workspace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var output string
	if stdout.Len() > 0 {
		output = stdout.String()
	}
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "STDERR:\n" + stderr.String()
	}
	if len(output) > shellOutputCap {
		output = output[:shellOutputCap] + "\n... (output truncated)"
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", shellTimeout))
		}
		if output == "" {
			output = err.Error()
		}
		return ErrorResult(output)
	}

	if output == "" {
		output = "(command completed with no output)"
	}
	return SilentResult(output)
}

// resolvePath resolves a tool-supplied path against the workspace and
// rejects anything that escapes it.
func resolvePath(path, workspace string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(workspace, resolved)
	}
	resolved = filepath.Clean(resolved)

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	rel, err := filepath.Rel(absWorkspace, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return resolved, nil
}
