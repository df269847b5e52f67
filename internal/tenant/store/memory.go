package store

import (
	"context"
	"sync"

	"corebank/internal/tenant/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

// InMemory keeps tenants in maps keyed by ID and by lower-cased name.
type InMemory struct {
	mu     sync.RWMutex
	byID   map[id.TenantID]*models.Tenant
	byName map[string]id.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.TenantID]*models.Tenant),
		byName: make(map[string]id.TenantID),
	}
}

// CreateIfNameAvailable fails with sentinel.ErrAlreadyUsed when the name is
// taken, ignoring case.
func (s *InMemory) CreateIfNameAvailable(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.NameKey(t.Name)
	if _, taken := s.byName[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	cp := *t
	s.byID[t.ID] = &cp
	s.byName[key] = t.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.byID, cp.ID)
		delete(s.byName, key)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemory) FindByName(_ context.Context, name string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenantID, ok := s.byName[models.NameKey(name)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[tenantID]
	return &cp, nil
}

// Update persists status changes. The name is immutable.
func (s *InMemory) Update(ctx context.Context, t *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.byID[t.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *t
	cp.Name = existing.Name
	s.byID[t.ID] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.byID[existing.ID] = existing
		s.mu.Unlock()
	})
	return nil
}
