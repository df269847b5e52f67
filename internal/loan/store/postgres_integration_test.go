//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	class "corebank/internal/classification/models"
	ledger "corebank/internal/ledger/models"
	ledgerstore "corebank/internal/ledger/store"
	"corebank/internal/loan/models"
	"corebank/internal/loan/store"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
	"corebank/pkg/testutil/containers"
)

type PostgresLoanSuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	store    *store.PostgresStore
	ledger   *ledgerstore.PostgresStore
	tenantID id.TenantID
}

func TestPostgresLoanSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLoanSuite))
}

func (s *PostgresLoanSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.ledger = ledgerstore.NewPostgres(s.pg.DB)
}

func (s *PostgresLoanSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateTables(ctx,
		"loan_repayments", "loan_installments", "loans", "journal_lines", "journals", "gl_accounts", "tenants"))
	s.tenantID = id.TenantID(s.pg.SeedTenant(s.T(), "USD"))
	for _, e := range ledger.DefaultChart {
		a, err := ledger.NewAccount(s.tenantID, e.Code, e.Name, e.Type, e.NormalBalance, "USD", time.Now())
		s.Require().NoError(err)
		s.Require().NoError(s.ledger.CreateAccount(ctx, a))
	}
}

func (s *PostgresLoanSuite) date(v string) id.Date {
	d, err := id.ParseDate(v)
	s.Require().NoError(err)
	return d
}

func (s *PostgresLoanSuite) journal(ref string) id.JournalID {
	amt := decimal.NewFromInt(100)
	j := &ledger.Journal{
		ID:        id.JournalID(uuid.New()),
		TenantID:  s.tenantID,
		Reference: ref,
		Source:    ledger.SourceLoanRepayment,
		Currency:  "USD",
		ValueDate: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		PostedAt:  time.Now().UTC().Truncate(time.Microsecond),
		Lines: []ledger.Line{
			ledger.Debit(ledger.CodeCash, amt, ""),
			ledger.Credit(ledger.CodeLoansPrincipal, amt, ""),
		},
	}
	s.Require().NoError(s.ledger.InsertJournal(context.Background(), j))
	return j.ID
}

func (s *PostgresLoanSuite) loan() *models.Loan {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Loan{
		ID:              id.LoanID(uuid.New()),
		TenantID:        s.tenantID,
		CustomerID:      "c-7",
		Currency:        "USD",
		Principal:       decimal.RequireFromString("1200.00"),
		AnnualRate:      decimal.RequireFromString("12.5"),
		TermMonths:      12,
		Method:          models.MethodAnnuity,
		Collateral:      decimal.Zero,
		Status:          models.StatusApplied,
		ApplicationDate: s.date("2025-01-01"),
		Classification:  class.Performing,
		Stage:           class.Stage1,
		ProvisionHeld:   decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *PostgresLoanSuite) TestLifecycleRoundTrip() {
	ctx := context.Background()
	l := s.loan()
	s.Require().NoError(s.store.Create(ctx, l))
	s.ErrorIs(s.store.Create(ctx, l), sentinel.ErrConflict)

	got, err := s.store.FindByID(ctx, s.tenantID, l.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusApplied, got.Status)
	s.Empty(got.Schedule)
	s.True(got.DisbursedAt.IsZero())
	s.Nil(got.DisbursementJournalID)
	s.Equal("12.5", got.AnnualRate.String())

	schedule, err := models.BuildSchedule(l.Principal, l.AnnualRate, l.TermMonths, l.Method, s.date("2025-02-01"))
	s.Require().NoError(err)
	jid := s.journal("LN-DISB-" + l.ID.String())
	got.Status = models.StatusActive
	got.DisbursedAt = s.date("2025-01-01")
	got.FirstDueDate = schedule[0].DueDate
	got.Schedule = schedule
	got.Schedule[0].PaidInterest = got.Schedule[0].Interest
	got.DisbursementJournalID = &jid
	got.Classification = class.Substandard
	got.Stage = class.Stage2
	got.ProvisionHeld = decimal.RequireFromString("240.00")
	s.Require().NoError(s.store.Update(ctx, got))

	reloaded, err := s.store.FindByID(ctx, s.tenantID, l.ID)
	s.Require().NoError(err)
	s.Len(reloaded.Schedule, 12)
	s.Equal("2025-02-01", reloaded.Schedule[0].DueDate.String())
	s.True(reloaded.Schedule[0].PaidInterest.Equal(schedule[0].Interest))
	s.Equal(jid, *reloaded.DisbursementJournalID)
	s.Equal(class.Substandard, reloaded.Classification)
	s.Equal("1200.00", reloaded.Outstanding.StringFixed(2))

	missing := s.loan()
	s.ErrorIs(s.store.Update(ctx, missing), sentinel.ErrNotFound)
}

func (s *PostgresLoanSuite) TestListFilters() {
	ctx := context.Background()
	a, b := s.loan(), s.loan()
	b.CustomerID = "c-8"
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	s.Require().NoError(s.store.Create(ctx, a))
	s.Require().NoError(s.store.Create(ctx, b))

	all, err := s.store.List(ctx, s.tenantID, models.ListFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(a.ID, all[0].ID)

	byCustomer, err := s.store.List(ctx, s.tenantID, models.ListFilter{CustomerID: "c-8"})
	s.Require().NoError(err)
	s.Require().Len(byCustomer, 1)
	s.Equal(b.ID, byCustomer[0].ID)

	none, err := s.store.List(ctx, s.tenantID, models.ListFilter{Status: models.StatusClosed})
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *PostgresLoanSuite) TestRepayments() {
	ctx := context.Background()
	l := s.loan()
	s.Require().NoError(s.store.Create(ctx, l))

	r := &models.Repayment{
		ID:            uuid.New(),
		TenantID:      s.tenantID,
		LoanID:        l.ID,
		Reference:     "R-1",
		Amount:        decimal.RequireFromString("100.00"),
		InterestPaid:  decimal.RequireFromString("12.50"),
		PrincipalPaid: decimal.RequireFromString("87.50"),
		Channel:       models.ChannelCash,
		ValueDate:     s.date("2025-02-01"),
		JournalID:     s.journal("LN-REP-1"),
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.CreateRepayment(ctx, r))

	dup := *r
	dup.ID = uuid.New()
	s.ErrorIs(s.store.CreateRepayment(ctx, &dup), sentinel.ErrConflict)

	found, err := s.store.FindRepayment(ctx, s.tenantID, l.ID, "R-1")
	s.Require().NoError(err)
	s.Equal(r.ID, found.ID)
	s.Equal("87.50", found.PrincipalPaid.StringFixed(2))
	s.Equal("2025-02-01", found.ValueDate.String())

	_, err = s.store.FindRepayment(ctx, s.tenantID, l.ID, "R-2")
	s.ErrorIs(err, sentinel.ErrNotFound)

	list, err := s.store.ListRepayments(ctx, s.tenantID, l.ID)
	s.Require().NoError(err)
	s.Len(list, 1)
}
