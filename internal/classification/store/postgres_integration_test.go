//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"corebank/internal/classification/models"
	"corebank/internal/classification/store"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	"corebank/pkg/testutil/containers"
)

type PostgresRunSuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	store    *store.PostgresStore
	tenantID id.TenantID
}

func TestPostgresRunSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRunSuite))
}

func (s *PostgresRunSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
}

func (s *PostgresRunSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "provision_runs", "tenants"))
	s.tenantID = id.TenantID(s.pg.SeedTenant(s.T(), "USD"))
}

func (s *PostgresRunSuite) run(day string) *models.Run {
	asOf, err := id.ParseDate(day)
	s.Require().NoError(err)
	return &models.Run{
		ID:       id.ProvisionRunID(uuid.New()),
		TenantID: s.tenantID,
		AsOf:     asOf,
		Summary: models.Summary{
			LoanCount:     2,
			TotalRequired: decimal.RequireFromString("70.00"),
			NetDelta:      decimal.RequireFromString("70.00"),
			Classes: []models.ClassSummary{
				{Class: models.Performing, Stage: models.Stage1, Count: 1, Required: decimal.RequireFromString("10.00")},
			},
		},
		PostedBy:  id.UserID(uuid.New()),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresRunSuite) TestRoundTrip() {
	ctx := context.Background()
	r := s.run("2025-03-31")
	s.Require().NoError(s.store.Create(ctx, r))
	s.ErrorIs(s.store.Create(ctx, s.run("2025-03-31")), sentinel.ErrConflict)

	got, err := s.store.FindByAsOf(ctx, s.tenantID, r.AsOf)
	s.Require().NoError(err)
	s.Equal(r.ID, got.ID)
	s.Equal(r.PostedBy, got.PostedBy)
	s.Nil(got.JournalID)
	s.Equal(2, got.Summary.LoanCount)
	s.Equal("70.00", got.Summary.NetDelta.StringFixed(2))
	s.Require().Len(got.Summary.Classes, 1)
	s.Equal(models.Performing, got.Summary.Classes[0].Class)

	_, err = s.store.FindByAsOf(ctx, id.TenantID(uuid.New()), r.AsOf)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresRunSuite) TestListNewestFirst() {
	ctx := context.Background()
	for _, day := range []string{"2025-01-31", "2025-03-31", "2025-02-28"} {
		s.Require().NoError(s.store.Create(ctx, s.run(day)))
	}
	runs, err := s.store.List(ctx, s.tenantID, 2)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal("2025-03-31", runs[0].AsOf.String())
	s.Equal("2025-02-28", runs[1].AsOf.String())
}
