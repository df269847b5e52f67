package user

import (
	"context"
	"slices"
	"sync"

	"corebank/internal/auth/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
)

type emailKey struct {
	tenant id.TenantID
	email  string
}

// InMemoryUserStore indexes users by id and by (tenant, email).
type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[emailKey]id.UserID
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[emailKey]id.UserID),
	}
}

// Create returns sentinel.ErrAlreadyUsed when the email is taken in the tenant.
func (s *InMemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := emailKey{tenant: user.TenantID, email: models.NormalizeEmail(user.Email)}
	if _, taken := s.byEmail[key]; taken {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.users[user.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.users[user.ID] = clone(user)
	s.byEmail[key] = user.ID
	userID := user.ID
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.users, userID)
		delete(s.byEmail, key)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, tenantID id.TenantID, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return clone(u), nil
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[emailKey{tenant: tenantID, email: models.NormalizeEmail(email)}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.users[userID]), nil
}

func clone(u *models.User) *models.User {
	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp
}
