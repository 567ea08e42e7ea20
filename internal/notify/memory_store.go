package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for testing and dev mode.
type MemoryStore struct {
	endpoints  map[string]*WebhookEndpoint
	deliveries map[string]*Delivery
	byTriple   map[string]string // endpoint|run|event -> delivery id
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*WebhookEndpoint),
		deliveries: make(map[string]*Delivery),
		byTriple:   make(map[string]string),
	}
}

func tripleKey(endpointID, runID, event string) string {
	return endpointID + "|" + runID + "|" + event
}

func (m *MemoryStore) CreateEndpoint(ctx context.Context, e *WebhookEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.endpoints {
		if existing.OwnerID == e.OwnerID && existing.Name == e.Name {
			return ErrDuplicateEndpoint
		}
	}
	cp := *e
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetEndpoint(ctx context.Context, id string) (*WebhookEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.endpoints[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, ErrEndpointNotFound
}

func (m *MemoryStore) UpdateEndpoint(ctx context.Context, e *WebhookEndpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[e.ID]; !ok {
		return ErrEndpointNotFound
	}
	for id, existing := range m.endpoints {
		if id != e.ID && existing.OwnerID == e.OwnerID && existing.Name == e.Name {
			return ErrDuplicateEndpoint
		}
	}
	cp := *e
	m.endpoints[e.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteEndpoint(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(m.endpoints, id)
	return nil
}

func (m *MemoryStore) ListEndpointsByOwner(ctx context.Context, ownerID string) ([]*WebhookEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*WebhookEndpoint
	for _, e := range m.endpoints {
		if e.OwnerID == ownerID {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) GetOrCreateDelivery(ctx context.Context, d *Delivery) (*Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tripleKey(d.EndpointID, d.RunID, d.EventType)
	if id, ok := m.byTriple[key]; ok {
		cp := *m.deliveries[id]
		return &cp, false, nil
	}
	cp := *d
	m.deliveries[d.ID] = &cp
	m.byTriple[key] = d.ID
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.deliveries[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrDeliveryNotFound
}

func (m *MemoryStore) UpdateDelivery(ctx context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListDeliveriesByRun(ctx context.Context, runID string) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Delivery
	for _, d := range m.deliveries {
		if d.RunID == runID {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListDueRetries(ctx context.Context, before time.Time, limit int) ([]*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Delivery
	for _, d := range m.deliveries {
		if d.Status == DeliveryPending && d.NextRetryAt != nil && !d.NextRetryAt.After(before) {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRetryAt.Before(*result[j].NextRetryAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
