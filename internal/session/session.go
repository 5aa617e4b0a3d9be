// Package session implements branchable conversation histories. Entries
// form a tree: each entry points at its parent, the session tracks a
// current pointer, and appending never mutates or removes existing
// entries.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned when an entry ID is not in the session.
var ErrEntryNotFound = errors.New("entry not found")

// Entry is one node of the conversation tree.
type Entry struct {
	ID        string                 `json:"id"`
	ParentID  string                 `json:"parent_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Role      string                 `json:"role"` // "user", "assistant", "system", "tool"
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session is a conversation with a branchable entry tree.
type Session struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`

	entries map[string]*Entry
	order   []string // insertion order, for persistence
	current string

	// compactions maps the first kept entry of each compaction to the
	// synthetic summary entry standing in for everything before it.
	compactions map[string]string
}

// New creates an empty session. An empty name defaults to the ID prefix.
func New(name string) *Session {
	id := uuid.NewString()
	if name == "" {
		name = "session-" + id[:8]
	}
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		entries:   make(map[string]*Entry),
	}
}

// Append adds an entry as a child of the current entry and moves the
// current pointer to it.
func (s *Session) Append(role, content string, metadata map[string]interface{}) *Entry {
	e := &Entry{
		ID:        uuid.NewString(),
		ParentID:  s.current,
		Timestamp: time.Now().UTC(),
		Role:      role,
		Content:   content,
		Metadata:  metadata,
	}
	s.insert(e)
	s.current = e.ID
	s.UpdatedAt = e.Timestamp
	return e
}

func (s *Session) insert(e *Entry) {
	s.entries[e.ID] = e
	s.order = append(s.order, e.ID)
	if compacted, _ := e.Metadata["compacted"].(bool); compacted {
		if resumeID, _ := e.Metadata["resume_id"].(string); resumeID != "" {
			if s.compactions == nil {
				s.compactions = make(map[string]string)
			}
			s.compactions[resumeID] = e.ID
		}
	}
}

// Current returns the entry the current pointer refers to, or nil for an
// empty session.
func (s *Session) Current() *Entry {
	return s.entries[s.current]
}

// Get returns an entry by ID.
func (s *Session) Get(id string) (*Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of entries in the tree.
func (s *Session) Len() int {
	return len(s.entries)
}

// Entries returns all entries in insertion order.
func (s *Session) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// PathToCurrent returns the root-to-current chain.
func (s *Session) PathToCurrent() []*Entry {
	return s.pathTo(s.current)
}

// PathTo returns the root-to-id chain.
func (s *Session) PathTo(id string) ([]*Entry, error) {
	if _, ok := s.entries[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return s.pathTo(id), nil
}

func (s *Session) pathTo(id string) []*Entry {
	var path []*Entry
	for id != "" {
		e, ok := s.entries[id]
		if !ok {
			break
		}
		path = append(path, e)
		id = e.ParentID
	}
	// Reverse: collected leaf-to-root.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// BranchesFrom returns the children of an entry, ordered by timestamp then
// ID for stable output.
func (s *Session) BranchesFrom(id string) ([]*Entry, error) {
	if _, ok := s.entries[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	var children []*Entry
	for _, e := range s.entries {
		if e.ParentID == id {
			children = append(children, e)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if !children[i].Timestamp.Equal(children[j].Timestamp) {
			return children[i].Timestamp.Before(children[j].Timestamp)
		}
		return children[i].ID < children[j].ID
	})
	return children, nil
}

// SwitchTo moves the current pointer to an existing entry. Appending after
// a switch starts a new branch.
func (s *Session) SwitchTo(id string) error {
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	s.current = id
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fork copies the current linear path into a brand-new session with fresh
// entry IDs. Branches outside the active path are not carried over.
func (s *Session) Fork(name string) *Session {
	forked, _ := s.ForkFrom(s.current, name)
	return forked
}

// ForkFrom copies the root-to-entry path of any existing entry into a
// brand-new session with fresh entry IDs. Branches outside that path are
// not carried over.
func (s *Session) ForkFrom(entryID, name string) (*Session, error) {
	if entryID != "" {
		if _, ok := s.entries[entryID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
	}

	forked := New(name)
	forked.Metadata = copyMetadata(s.Metadata)

	var prevID string
	for _, e := range s.pathTo(entryID) {
		copied := &Entry{
			ID:        uuid.NewString(),
			ParentID:  prevID,
			Timestamp: e.Timestamp,
			Role:      e.Role,
			Content:   e.Content,
			Metadata:  copyMetadata(e.Metadata),
		}
		forked.insert(copied)
		prevID = copied.ID
	}
	forked.current = prevID
	return forked, nil
}

const (
	compactThreshold = 10
	compactKeep      = 5
)

// Compact elides the older part of the effective path when it exceeds
// the threshold. A synthetic system entry summarizing the elided prefix
// is appended to the tree as a sibling branch; every original entry stays
// in place and nothing is mutated. EffectivePath substitutes the summary
// for the elided prefix from then on. Shorter paths are left untouched.
func (s *Session) Compact() bool {
	path := s.EffectivePath()
	if len(path) <= compactThreshold {
		return false
	}

	elided := len(path) - compactKeep
	resume := path[elided]

	synthetic := &Entry{
		ID:        uuid.NewString(),
		ParentID:  path[elided-1].ID,
		Timestamp: time.Now().UTC(),
		Role:      "system",
		Content:   fmt.Sprintf("Previous conversation summarized: %d earlier entries elided.", elided),
		Metadata: map[string]interface{}{
			"compacted":      true,
			"original_count": elided,
			"resume_id":      resume.ID,
		},
	}
	s.insert(synthetic)
	s.UpdatedAt = synthetic.Timestamp
	return true
}

// EffectivePath is the root-to-current chain with compacted prefixes
// replaced by their synthetic summary entry. This is the view submitted
// to the model; PathToCurrent and Entries still expose the full tree.
func (s *Session) EffectivePath() []*Entry {
	full := s.pathTo(s.current)
	// The compaction closest to the tip wins; earlier summaries sit
	// inside the prefix it elides.
	for i := len(full) - 1; i > 0; i-- {
		summaryID, ok := s.compactions[full[i].ID]
		if !ok {
			continue
		}
		summary, ok := s.entries[summaryID]
		if !ok {
			continue
		}
		effective := make([]*Entry, 0, len(full)-i+1)
		effective = append(effective, summary)
		effective = append(effective, full[i:]...)
		return effective
	}
	return full
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
