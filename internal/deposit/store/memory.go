package store

import (
	"context"
	"sync"

	"corebank/internal/deposit/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[id.AccountID]*models.Account
	numbers  map[id.TenantID]map[string]id.AccountID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[id.AccountID]*models.Account),
		numbers:  make(map[id.TenantID]map[string]id.AccountID),
	}
}

// Create fails with sentinel.ErrConflict when the number is taken in the tenant.
func (s *InMemoryStore) Create(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNumber, ok := s.numbers[a.TenantID]
	if !ok {
		byNumber = make(map[string]id.AccountID)
		s.numbers[a.TenantID] = byNumber
	}
	if _, taken := byNumber[a.Number]; taken {
		return sentinel.ErrConflict
	}
	cp := *a
	s.accounts[a.ID] = &cp
	byNumber[a.Number] = a.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.accounts, cp.ID)
		delete(s.numbers[cp.TenantID], cp.Number)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[a.ID]
	if !ok || existing.TenantID != a.TenantID {
		return sentinel.ErrNotFound
	}
	prev := *existing
	*existing = *a
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		*existing = prev
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok || a.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, tenantID id.TenantID, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accountID, ok := s.numbers[tenantID][number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.accounts[accountID]
	return &cp, nil
}
