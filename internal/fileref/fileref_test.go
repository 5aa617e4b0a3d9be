package fileref

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestExpandInlinesFile verifies a referenced file is wrapped in
// delimiters with its workspace-relative path.
func TestExpandInlinesFile(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "docs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "docs", "notes.md"), []byte("line one\nline two\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := Expand("please read @docs/notes.md and summarize", ws)
	want := "please read --- File: docs/notes.md ---\nline one\nline two\n--- End of docs/notes.md --- and summarize"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}

// TestExpandQuotedPath verifies quoted tokens allow spaces in paths.
func TestExpandQuotedPath(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "my notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	got := Expand(`see @"my notes.txt" here`, ws)
	if !strings.Contains(got, "--- File: my notes.txt ---\nhello\n") {
		t.Errorf("got %q", got)
	}
}

// TestExpandMissingFileKeepsToken verifies unreadable references are left
// untouched.
func TestExpandMissingFileKeepsToken(t *testing.T) {
	ws := t.TempDir()
	input := "look at @missing.txt please"
	if got := Expand(input, ws); got != input {
		t.Errorf("got %q", got)
	}
}

// TestExpandRejectsEscape verifies paths outside the workspace are not
// inlined.
func TestExpandRejectsEscape(t *testing.T) {
	ws := t.TempDir()
	outside := filepath.Join(filepath.Dir(ws), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}
	defer os.Remove(outside)

	input := "read @../secret.txt now"
	got := Expand(input, ws)
	if got != input {
		t.Errorf("escape expanded: %q", got)
	}
}

// TestExpandMultipleTokens verifies several references expand in one pass.
func TestExpandMultipleTokens(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), []byte("A"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "b.txt"), []byte("B"), 0644); err != nil {
		t.Fatal(err)
	}

	got := Expand("@a.txt and @b.txt", ws)
	if !strings.Contains(got, "--- File: a.txt ---\nA\n--- End of a.txt ---") ||
		!strings.Contains(got, "--- File: b.txt ---\nB\n--- End of b.txt ---") {
		t.Errorf("got %q", got)
	}
}

// TestExpandNoTokens verifies plain input passes through.
func TestExpandNoTokens(t *testing.T) {
	ws := t.TempDir()
	input := "no references here, not even an email like a(at)b"
	if got := Expand(input, ws); got != input {
		t.Errorf("got %q", got)
	}
}
