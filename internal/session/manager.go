package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager handles session lifecycle, lookup, and persistence over a Store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *Store
}

func NewManager(store *Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
	}
}

// GetOrCreate returns a cached session, loads it from disk, or creates a
// new one under the given ID.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}

	if m.store != nil {
		if s, err := m.store.Load(id); err == nil {
			m.sessions[id] = s
			return s
		}
	}

	s := New(id)
	s.ID = sanitizeID(id)
	m.sessions[s.ID] = s
	return s
}

// Get returns a cached or stored session, or false when it does not exist.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	if s, ok := m.sessions[id]; ok {
		m.mu.RUnlock()
		return s, true
	}
	m.mu.RUnlock()

	if m.store == nil {
		return nil, false
	}
	s, err := m.store.Load(id)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, true
}

// Put caches a session (used after Fork) and persists it.
func (m *Manager) Put(s *Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return m.Save(s)
}

// Save persists a full snapshot of the session.
func (m *Manager) Save(s *Session) error {
	if m.store == nil {
		return nil
	}
	return m.store.Save(s)
}

// AppendEntry appends an entry and persists the single new line.
func (m *Manager) AppendEntry(s *Session, role, content string, metadata map[string]interface{}) *Entry {
	m.mu.Lock()
	e := s.Append(role, content, metadata)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Append(s, e); err != nil {
			slog.Warn("failed to persist session entry", "session", s.ID, "error", err)
		}
	}
	return e
}

// List returns metadata for all stored sessions.
func (m *Manager) List() ([]Meta, error) {
	if m.store == nil {
		m.mu.RLock()
		defer m.mu.RUnlock()
		var metas []Meta
		for _, s := range m.sessions {
			metas = append(metas, Meta{
				ID: s.ID, Name: s.Name,
				CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
				Entries: s.Len(),
			})
		}
		return metas, nil
	}
	return m.store.List()
}

// Delete removes a session from memory and disk.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Delete(id)
}

// Cleanup deletes sessions whose last update is older than the cutoff.
// Returns the number of sessions removed.
func (m *Manager) Cleanup(olderThan time.Duration) (int, error) {
	metas, err := m.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, meta := range metas {
		if meta.UpdatedAt.After(cutoff) {
			continue
		}
		if err := m.Delete(meta.ID); err != nil {
			return removed, fmt.Errorf("delete session %s: %w", meta.ID, err)
		}
		removed++
	}
	return removed, nil
}
