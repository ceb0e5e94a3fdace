package session

import (
	"context"
	"sync"
	"time"
)

type memorySession struct {
	accountID int
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Sessions are lost on
// restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memorySession
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memorySession),
		now:      time.Now,
	}
}

func (m *MemoryStore) Save(_ context.Context, jti string, accountID int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[jti] = memorySession{accountID: accountID, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, jti string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[jti]
	if !ok {
		return 0, ErrNotFound
	}
	delete(m.sessions, jti)
	if !m.now().Before(sess.expiresAt) {
		return 0, ErrNotFound
	}
	return sess.accountID, nil
}

func (m *MemoryStore) Revoke(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, jti)
	return nil
}

func (m *MemoryStore) RevokeAccount(_ context.Context, accountID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jti, sess := range m.sessions {
		if sess.accountID == accountID {
			delete(m.sessions, jti)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
