package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	policies map[string]*Policy
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*Policy)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTaken(p.OwnerID, p.Name, p.ID) {
		return ErrDuplicateName
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.policies[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPolicyNotFound
}

func (m *MemoryStore) Update(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return ErrPolicyNotFound
	}
	if m.nameTaken(p.OwnerID, p.Name, p.ID) {
		return ErrDuplicateName
	}
	cp := *p
	m.policies[p.ID] = &cp
	return nil
}

// nameTaken reports whether another policy of the same owner already uses
// the name. Callers must hold the lock.
func (m *MemoryStore) nameTaken(ownerID, name, excludeID string) bool {
	for _, existing := range m.policies {
		if existing.ID != excludeID && existing.OwnerID == ownerID && existing.Name == name {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Policy
	for _, p := range m.policies {
		if p.OwnerID == ownerID {
			cp := *p
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
