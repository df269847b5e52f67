package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	class "corebank/internal/classification/models"
	"corebank/internal/loan/models"
	id "corebank/pkg/domain"
	"corebank/pkg/platform/sentinel"
)

func newLoan(tenantID id.TenantID, customer string, created time.Time) *models.Loan {
	first, _ := id.ParseDate("2025-02-01")
	schedule, _ := models.BuildSchedule(decimal.NewFromInt(300), decimal.NewFromInt(12), 3, models.MethodFlat, first)
	l := &models.Loan{
		ID:              id.LoanID(uuid.New()),
		TenantID:        tenantID,
		CustomerID:      customer,
		Currency:        "USD",
		Principal:       decimal.NewFromInt(300),
		AnnualRate:      decimal.NewFromInt(12),
		TermMonths:      3,
		Method:          models.MethodFlat,
		Status:          models.StatusActive,
		ApplicationDate: id.DateOf(created),
		Schedule:        schedule,
		Classification:  class.Performing,
		Stage:           class.Stage1,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	l.Recompute()
	return l
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tenantID := id.TenantID(uuid.New())
	l := newLoan(tenantID, "c-1", time.Now())
	require.NoError(t, s.Create(ctx, l))
	assert.ErrorIs(t, s.Create(ctx, l), sentinel.ErrConflict)

	got, err := s.FindByID(ctx, tenantID, l.ID)
	require.NoError(t, err)
	got.Schedule[0].PaidInterest = decimal.NewFromInt(3)

	again, err := s.FindByID(ctx, tenantID, l.ID)
	require.NoError(t, err)
	assert.True(t, again.Schedule[0].PaidInterest.IsZero(), "callers must not mutate stored schedules")

	_, err = s.FindByID(ctx, id.TenantID(uuid.New()), l.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tenantID := id.TenantID(uuid.New())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	second := newLoan(tenantID, "c-1", base.Add(time.Hour))
	first := newLoan(tenantID, "c-1", base)
	other := newLoan(tenantID, "c-2", base.Add(2*time.Hour))
	other.Status = models.StatusClosed
	for _, l := range []*models.Loan{second, first, other, newLoan(id.TenantID(uuid.New()), "c-1", base)} {
		require.NoError(t, s.Create(ctx, l))
	}

	all, err := s.List(ctx, tenantID, models.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	byCustomer, err := s.List(ctx, tenantID, models.ListFilter{CustomerID: "c-2"})
	require.NoError(t, err)
	require.Len(t, byCustomer, 1)

	active, err := s.List(ctx, tenantID, models.ListFilter{Status: models.StatusActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestInMemoryStore_RepaymentReferencesUniquePerLoan(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	tenantID := id.TenantID(uuid.New())
	loanA, loanB := id.LoanID(uuid.New()), id.LoanID(uuid.New())
	rep := func(loanID id.LoanID) *models.Repayment {
		return &models.Repayment{ID: uuid.New(), TenantID: tenantID, LoanID: loanID, Reference: "R1", Amount: decimal.NewFromInt(10)}
	}

	require.NoError(t, s.CreateRepayment(ctx, rep(loanA)))
	assert.ErrorIs(t, s.CreateRepayment(ctx, rep(loanA)), sentinel.ErrConflict)
	require.NoError(t, s.CreateRepayment(ctx, rep(loanB)))

	found, err := s.FindRepayment(ctx, tenantID, loanA, "R1")
	require.NoError(t, err)
	assert.Equal(t, "10", found.Amount.String())

	_, err = s.FindRepayment(ctx, tenantID, loanA, "R2")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	list, err := s.ListRepayments(ctx, tenantID, loanB)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
