// Package skills discovers workspace skills: directories carrying a
// SKILL.md whose frontmatter names the skill and what it does.
package skills

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Skill is one discovered skill.
type Skill struct {
	Name        string
	Description string
	Dir         string
}

// Discover scans every direct subdirectory of dir for a SKILL.md and
// parses its frontmatter. Results come back sorted by name. A missing or
// unreadable dir yields an empty list.
func Discover(dir string) []Skill {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var found []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "SKILL.md")
		s, err := parseSkillFile(path)
		if err != nil {
			continue
		}
		if s.Name == "" {
			s.Name = e.Name()
		}
		s.Dir = filepath.Join(dir, e.Name())
		found = append(found, s)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found
}

// parseSkillFile reads the YAML-style frontmatter block between --- lines.
// Only name and description keys are honored.
func parseSkillFile(path string) (Skill, error) {
	f, err := os.Open(path)
	if err != nil {
		return Skill{}, err
	}
	defer f.Close()

	var s Skill
	scanner := bufio.NewScanner(f)
	inFrontmatter := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "---" {
			if inFrontmatter {
				break
			}
			inFrontmatter = true
			continue
		}
		if !inFrontmatter {
			// No frontmatter at all; nothing to parse.
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "name":
			s.Name = value
		case "description":
			s.Description = value
		}
	}
	return s, scanner.Err()
}

// Summary renders the skills appendix for the system prompt. Empty input
// produces an empty string.
func Summary(list []Skill) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Available Skills\n\n")
	for _, s := range list {
		b.WriteString("- **")
		b.WriteString(s.Name)
		b.WriteString("**")
		if s.Description != "" {
			b.WriteString(": ")
			b.WriteString(s.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
