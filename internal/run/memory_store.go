package run

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	runs map[string]*Run
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrRunNotFound
}

func (m *MemoryStore) Update(ctx context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		return ErrRunNotFound
	}
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Run
	for _, r := range m.runs {
		if r.AgentID == agentID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
