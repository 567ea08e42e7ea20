package intent

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	intents map[string]*TradeIntent
	byKey   map[string]string // idempotency key -> id
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents: make(map[string]*TradeIntent),
		byKey:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *TradeIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IdempotencyKey != "" {
		if _, exists := m.byKey[t.IdempotencyKey]; exists {
			return ErrDuplicateKey
		}
		m.byKey[t.IdempotencyKey] = t.ID
	}
	cp := *t
	m.intents[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*TradeIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.intents[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrIntentNotFound
}

func (m *MemoryStore) Update(ctx context.Context, t *TradeIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[t.ID]; !ok {
		return ErrIntentNotFound
	}
	cp := *t
	m.intents[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int, opts ...ListOption) ([]*TradeIntent, error) {
	o := applyListOpts(opts)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*TradeIntent
	for _, t := range m.intents {
		if t.AgentID != agentID {
			continue
		}
		if o.cursor != nil {
			// Keyset match for newest-first ordering: only rows strictly
			// after the cursor position.
			if t.CreatedAt.After(o.cursor.CreatedAt) {
				continue
			}
			if t.CreatedAt.Equal(o.cursor.CreatedAt) && t.ID >= o.cursor.ID {
				continue
			}
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) GetByApprovalRequest(ctx context.Context, approvalRequestID string) (*TradeIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.intents {
		if t.ApprovalRequestID == approvalRequestID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrIntentNotFound
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
