package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"corebank/internal/classification/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[id.TenantID][]*models.Run
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[id.TenantID][]*models.Run)}
}

// Create fails with sentinel.ErrConflict when a run already exists for the date.
func (s *InMemoryStore) Create(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs[run.TenantID] {
		if r.AsOf.Equal(run.AsOf) {
			return sentinel.ErrConflict
		}
	}
	cp := *run
	s.runs[run.TenantID] = append(s.runs[run.TenantID], &cp)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.runs[cp.TenantID] = slices.DeleteFunc(s.runs[cp.TenantID], func(r *models.Run) bool { return r == &cp })
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindByAsOf(_ context.Context, tenantID id.TenantID, asOf id.Date) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs[tenantID] {
		if r.AsOf.Equal(asOf) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// List returns the most recent runs first.
func (s *InMemoryStore) List(_ context.Context, tenantID id.TenantID, limit int) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Run, 0, len(s.runs[tenantID]))
	for _, r := range s.runs[tenantID] {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AsOf.After(out[j].AsOf) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
