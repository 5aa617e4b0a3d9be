// Package fileref expands @path tokens in user input into inline file
// contents so the model sees the referenced files directly.
package fileref

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const maxInlineSize = 256 * 1024

// Tokens are @ followed by a path; quotes allow spaces.
var tokenRe = regexp.MustCompile(`@(?:"([^"]+)"|([^\s@]+))`)

// Expand replaces each @path token in input with the referenced file's
// contents, wrapped in delimiters. Paths resolve relative to workspace and
// must stay inside it. A token whose file cannot be read is left as-is
// with a warning logged.
func Expand(input, workspace string) string {
	return tokenRe.ReplaceAllStringFunc(input, func(token string) string {
		m := tokenRe.FindStringSubmatch(token)
		path := m[1]
		if path == "" {
			path = m[2]
		}

		content, rel, err := readWorkspaceFile(workspace, path)
		if err != nil {
			slog.Warn("file reference not expanded", "path", path, "error", err)
			return token
		}
		return fmt.Sprintf("--- File: %s ---\n%s\n--- End of %s ---", rel, content, rel)
	})
}

func readWorkspaceFile(workspace, path string) (content, rel string, err error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workspace, path)
	}
	abs = filepath.Clean(abs)

	rel, err = filepath.Rel(workspace, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path escapes workspace: %s", path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", "", err
	}
	if info.IsDir() {
		return "", "", fmt.Errorf("is a directory: %s", path)
	}
	if info.Size() > maxInlineSize {
		return "", "", fmt.Errorf("file too large to inline: %s (%d bytes)", path, info.Size())
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", "", err
	}
	return strings.TrimRight(string(data), "\n"), rel, nil
}
