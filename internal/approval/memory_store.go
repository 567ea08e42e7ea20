package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	requests  map[string]*Request
	decisions map[string][]*Decision // request id -> decisions in creation order
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*Request),
		decisions: make(map[string][]*Decision),
	}
}

func (m *MemoryStore) CreateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id string) (*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.requests[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrRequestNotFound
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) FinalizeRequest(ctx context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.requests[r.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if stored.Status != StatusPending {
		return ErrConflict
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateDecision(ctx context.Context, d *Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ActorID != "" {
		for _, existing := range m.decisions[d.RequestID] {
			if existing.ActorID == d.ActorID {
				return ErrDuplicateVote
			}
		}
	}
	cp := *d
	m.decisions[d.RequestID] = append(m.decisions[d.RequestID], &cp)
	return nil
}

func (m *MemoryStore) ListDecisions(ctx context.Context, requestID string) ([]*Decision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Decision
	for _, d := range m.decisions[requestID] {
		cp := *d
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) CountApprovals(ctx context.Context, requestID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.decisions[requestID] {
		if d.Decision == DecisionApprove && d.ActorID != "" {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) HasActorDecided(ctx context.Context, requestID, actorID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if actorID == "" {
		return false, nil
	}
	for _, d := range m.decisions[requestID] {
		if d.ActorID == actorID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Request
	for _, r := range m.requests {
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

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Request
	for _, r := range m.requests {
		if r.Status == StatusPending && r.ExpiresAt != nil && !r.ExpiresAt.After(before) {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
