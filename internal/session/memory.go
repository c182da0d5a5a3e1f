// Package session stores import sessions between wizard steps.
//
// MemoryStore serves the web server; SQLiteStore keeps sessions in a local
// file so separate CLI invocations can continue the same import. Both store
// a JSON copy of the session, so callers never share state with the store,
// and both forget sessions that were not saved for longer than the TTL.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/JonMunkholm/trainingimport/internal/core"
)

// DefaultTTL is how long an untouched session is kept.
const DefaultTTL = 24 * time.Hour

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// MemoryStore is an in-process SessionStore.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

// NewMemoryStore creates a store. ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

// Save stores a copy of s and restarts its TTL.
func (m *MemoryStore) Save(_ context.Context, s *core.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{data: data, expires: m.now().Add(m.ttl)}
	return nil
}

// Load returns a copy of the session, or core.ErrSessionNotFound when it is
// unknown or expired.
func (m *MemoryStore) Load(_ context.Context, id string) (*core.Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || !m.now().Before(e.expires) {
		return nil, core.ErrSessionNotFound
	}

	var s core.Session
	if err := json.Unmarshal(e.data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Purge drops expired sessions and returns how many it removed.
func (m *MemoryStore) Purge(_ context.Context) (int, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var _ core.SessionStore = (*MemoryStore)(nil)
