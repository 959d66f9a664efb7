package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/estudaenem/tutor/internal/exam"
	"github.com/estudaenem/tutor/internal/model"
)

type memoryEntry struct {
	session exam.Session
	expires time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryStore is an in-process Store. Sessions are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memoryEntry
}

// NewMemoryStore returns a MemoryStore. A ttl of zero keeps sessions until
// an update removes them.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (exam.Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return exam.Session{}, model.ErrSessionNotFound
	}
	if e.expired(m.now()) {
		m.dropExpired(id)
		return exam.Session{}, model.ErrSessionNotFound
	}
	return e.session, nil
}

// dropExpired removes id only if it is still expired once the write lock is
// held, so a Put that refreshed it in the meantime survives.
func (m *MemoryStore) dropExpired(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok && e.expired(m.now()) {
		delete(m.sessions, id)
	}
}

func (m *MemoryStore) Put(_ context.Context, s exam.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = m.entry(s)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn UpdateFunc) (exam.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return exam.Session{}, model.ErrSessionNotFound
	}
	if e.expired(m.now()) {
		delete(m.sessions, id)
		return exam.Session{}, model.ErrSessionNotFound
	}
	next, done, err := fn(e.session)
	if err != nil {
		return exam.Session{}, err
	}
	if done {
		delete(m.sessions, id)
	} else {
		m.sessions[id] = m.entry(next)
	}
	return next, nil
}

func (m *MemoryStore) entry(s exam.Session) memoryEntry {
	e := memoryEntry{session: s}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	return e
}
