package user

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"corebank/internal/auth/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store  *InMemoryUserStore
	tenant id.TenantID
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = New()
	s.tenant = id.TenantID(uuid.New())
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func (s *InMemoryUserStoreSuite) newUser(tenant id.TenantID, email string) *models.User {
	return &models.User{
		ID:           id.UserID(uuid.New()),
		TenantID:     tenant,
		Email:        email,
		Name:         "Jane Doe",
		PasswordHash: "hash",
		Roles:        []string{"maker"},
		Status:       models.UserStatusActive,
		CreatedAt:    time.Now(),
	}
}

func (s *InMemoryUserStoreSuite) TestLookupBehavior() {
	ctx := context.Background()

	s.Run("returns user by ID when exists", func() {
		user := s.newUser(s.tenant, "jane.doe@example.com")
		s.Require().NoError(s.store.Create(ctx, user))

		found, err := s.store.FindByID(ctx, s.tenant, user.ID)
		s.Require().NoError(err)
		s.Equal(user, found)
	})

	s.Run("returns user by email ignoring case", func() {
		user := s.newUser(s.tenant, "email.lookup@example.com")
		s.Require().NoError(s.store.Create(ctx, user))

		found, err := s.store.FindByEmail(ctx, s.tenant, "Email.Lookup@Example.com")
		s.Require().NoError(err)
		s.Equal(user.ID, found.ID)
	})

	s.Run("returns ErrNotFound for another tenant's user", func() {
		user := s.newUser(s.tenant, "scoped@example.com")
		s.Require().NoError(s.store.Create(ctx, user))

		_, err := s.store.FindByID(ctx, id.TenantID(uuid.New()), user.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindByEmail(ctx, id.TenantID(uuid.New()), user.Email)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned users are copies", func() {
		user := s.newUser(s.tenant, "copy@example.com")
		s.Require().NoError(s.store.Create(ctx, user))

		found, err := s.store.FindByID(ctx, s.tenant, user.ID)
		s.Require().NoError(err)
		found.Roles[0] = "admin"

		again, err := s.store.FindByID(ctx, s.tenant, user.ID)
		s.Require().NoError(err)
		s.Equal([]string{"maker"}, again.Roles)
	})
}

func (s *InMemoryUserStoreSuite) TestEmailUniqueness() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.newUser(s.tenant, "dup@example.com")))

	s.Run("same tenant rejects duplicate email", func() {
		err := s.store.Create(ctx, s.newUser(s.tenant, "DUP@example.com"))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("other tenant may reuse email", func() {
		s.NoError(s.store.Create(ctx, s.newUser(id.TenantID(uuid.New()), "dup@example.com")))
	})
}
