package agent

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	agents map[string]*Agent
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

func (m *MemoryStore) Create(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.agents[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAgentNotFound
}

func (m *MemoryStore) Update(ctx context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; !ok {
		return ErrAgentNotFound
	}
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Agent
	for _, a := range m.agents {
		if a.OwnerID == ownerID {
			cp := *a
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
