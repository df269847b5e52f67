package store

import (
	"context"
	"slices"
	"sort"
	"sync"

	"corebank/internal/loan/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	loans      map[id.LoanID]*models.Loan
	repayments map[id.LoanID][]*models.Repayment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		loans:      make(map[id.LoanID]*models.Loan),
		repayments: make(map[id.LoanID][]*models.Repayment),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, l *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loans[l.ID]; exists {
		return sentinel.ErrConflict
	}
	s.loans[l.ID] = l.Clone()
	loanID := l.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.loans, loanID)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, l *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.loans[l.ID]
	if !ok || existing.TenantID != l.TenantID {
		return sentinel.ErrNotFound
	}
	s.loans[l.ID] = l.Clone()
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.loans[existing.ID] = existing
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[loanID]
	if !ok || l.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return l.Clone(), nil
}

// List returns matching loans oldest first.
func (s *InMemoryStore) List(_ context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Loan
	for _, l := range s.loans {
		if l.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && l.CustomerID != filter.CustomerID {
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateRepayment fails with sentinel.ErrConflict when the reference was
// already used on the loan.
func (s *InMemoryStore) CreateRepayment(ctx context.Context, r *models.Repayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.repayments[r.LoanID] {
		if existing.Reference == r.Reference {
			return sentinel.ErrConflict
		}
	}
	cp := *r
	s.repayments[r.LoanID] = append(s.repayments[r.LoanID], &cp)
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		s.repayments[cp.LoanID] = slices.DeleteFunc(s.repayments[cp.LoanID], func(v *models.Repayment) bool { return v == &cp })
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryStore) FindRepayment(_ context.Context, tenantID id.TenantID, loanID id.LoanID, reference string) (*models.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.repayments[loanID] {
		if r.TenantID == tenantID && r.Reference == reference {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListRepayments(_ context.Context, tenantID id.TenantID, loanID id.LoanID) ([]*models.Repayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Repayment
	for _, r := range s.repayments[loanID] {
		if r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
