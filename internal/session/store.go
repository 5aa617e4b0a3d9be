package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store persists sessions as JSONL files, one per session: a header line
// followed by one line per entry in insertion order.
type Store struct {
	dir string
}

// header is the first line of a session file. The tree field carried the
// full entry tree in an older format; it is tolerated and ignored on load.
type header struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tree      json.RawMessage        `json:"tree,omitempty"`
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, sanitizeID(id)+".jsonl")
}

// Save writes a full snapshot atomically: temp file in the same directory,
// fsync, then rename over the target.
func (st *Store) Save(s *Session) error {
	var sb strings.Builder

	head, err := json.Marshal(header{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Metadata:  s.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal session header: %w", err)
	}
	sb.Write(head)
	sb.WriteByte('\n')

	for _, e := range s.Entries() {
		line, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	tmpFile, err := os.CreateTemp(st.dir, "session-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.WriteString(sb.String()); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, st.path(s.ID)); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// Append adds one entry line to an existing session file. The line is
// written with a single Write on an O_APPEND handle so a concurrent reader
// never observes a torn line. Missing files fall back to a full Save.
func (st *Store) Append(s *Session, e *Entry) error {
	path := st.path(s.ID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return st.Save(s)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	return nil
}

// Load reads a session file. Blank lines are skipped; the current pointer
// is restored to the entry with the latest timestamp, later lines winning
// ties.
func (st *Store) Load(id string) (*Session, error) {
	f, err := os.Open(st.path(id))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("session %s: empty file", id)
	}
	var head header
	if err := json.Unmarshal(scanner.Bytes(), &head); err != nil {
		return nil, fmt.Errorf("session %s: parse header: %w", id, err)
	}

	s := &Session{
		ID:        head.ID,
		Name:      head.Name,
		CreatedAt: head.CreatedAt,
		UpdatedAt: head.UpdatedAt,
		Metadata:  head.Metadata,
		entries:   make(map[string]*Entry),
	}

	var latest *Entry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("session %s: parse entry: %w", id, err)
		}
		entry := e
		s.insert(&entry)
		// Compaction summaries are branch nodes, never the tip.
		if compacted, _ := entry.Metadata["compacted"].(bool); compacted {
			continue
		}
		if latest == nil || !entry.Timestamp.Before(latest.Timestamp) {
			latest = &entry
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session %s: read: %w", id, err)
	}

	if latest != nil {
		s.current = latest.ID
		if latest.Timestamp.After(s.UpdatedAt) {
			s.UpdatedAt = latest.Timestamp
		}
	}
	return s, nil
}

// Delete removes a session file; missing files are not an error.
func (st *Store) Delete(id string) error {
	err := os.Remove(st.path(id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Meta is a lightweight session descriptor for listings.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   int       `json:"entries"`
}

// List scans the store directory and returns header metadata for every
// session file. Unreadable files are skipped.
func (st *Store) List() ([]Meta, error) {
	files, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, err
	}

	var metas []Meta
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".jsonl" {
			continue
		}
		meta, err := st.readMeta(filepath.Join(st.dir, f.Name()))
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

func (st *Store) readMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		return Meta{}, fmt.Errorf("empty session file")
	}
	var head header
	if err := json.Unmarshal(scanner.Bytes(), &head); err != nil {
		return Meta{}, err
	}

	entries := 0
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			entries++
		}
	}
	return Meta{
		ID:        head.ID,
		Name:      head.Name,
		CreatedAt: head.CreatedAt,
		UpdatedAt: head.UpdatedAt,
		Entries:   entries,
	}, nil
}

func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
