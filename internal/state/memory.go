package state

import "sync"

// MemoryStore is an in-memory Store. Nothing survives a restart; it backs
// tests and ephemeral runs where durability is explicitly not wanted.
type MemoryStore struct {
	mu       sync.Mutex
	bindings map[string]Binding
	sessions map[string]Session
	closed   bool

	// FailWrites, when set, makes every mutation fail. Tests use it to
	// exercise fail-closed persistence handling.
	FailWrites error
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		bindings: make(map[string]Binding),
		sessions: make(map[string]Session),
	}
}

func (m *MemoryStore) GetBinding(channelID string) (Binding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Binding{}, false, ErrStoreClosed
	}
	b, ok := m.bindings[channelID]
	return b, ok, nil
}

func (m *MemoryStore) PutBinding(b Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.bindings[b.ChannelID] = b
	return nil
}

func (m *MemoryStore) DeleteBinding(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	delete(m.bindings, channelID)
	return nil
}

func (m *MemoryStore) GetSession(threadID string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, false, ErrStoreClosed
	}
	s, ok := m.sessions[threadID]
	return s, ok, nil
}

func (m *MemoryStore) PutSession(s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.sessions[s.ThreadID] = s
	return nil
}

func (m *MemoryStore) DeleteSession(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if m.FailWrites != nil {
		return m.FailWrites
	}
	delete(m.sessions, threadID)
	return nil
}

func (m *MemoryStore) ListSessions() ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
