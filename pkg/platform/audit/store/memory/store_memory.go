package memory

import (
	"context"
	"slices"
	"sync"

	id "corebank/pkg/domain"
	audit "corebank/pkg/platform/audit"
	txcontext "corebank/pkg/platform/tx"
)

// InMemoryStore keeps events per tenant in insertion order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.TenantID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.TenantID][]audit.Event)}
}

func (s *InMemoryStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.TenantID] = append(s.events[event.TenantID], event)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.events[event.TenantID] = slices.DeleteFunc(s.events[event.TenantID], func(e audit.Event) bool { return e.ID == event.ID })
		s.mu.Unlock()
	})
	return nil
}

// List returns matching events newest first.
func (s *InMemoryStore) List(_ context.Context, tenantID id.TenantID, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultListLimit
	}
	all := s.events[tenantID]
	out := make([]audit.Event, 0, min(limit, len(all)))
	for _, e := range slices.Backward(all) {
		if len(out) == limit {
			break
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clear drops every event.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.TenantID][]audit.Event)
}
