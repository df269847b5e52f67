package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"corebank/internal/ledger/metrics"
	"corebank/internal/ledger/models"
	"corebank/internal/ledger/store"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	auditmemory "corebank/pkg/platform/audit/store/memory"
	"corebank/pkg/platform/audit/publisher"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type LedgerServiceSuite struct {
	suite.Suite
	ctx      context.Context
	tenantID id.TenantID
	store    *store.InMemoryStore
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	service  *Service
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) SetupTest() {
	s.tenantID = id.TenantID(uuid.New())
	s.ctx = requestcontext.WithPrincipal(context.Background(), s.tenantID, id.UserID(uuid.New()), []string{"admin"})
	s.ctx = requestcontext.WithTime(s.ctx, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))

	s.store = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(s.store, txcontext.NewMemoryManager(),
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(s.service.SeedDefaultChart(s.ctx, s.tenantID, "USD"))
}

func (s *LedgerServiceSuite) post(ref string, valueDate time.Time, lines ...models.Line) (*models.Journal, error) {
	return s.service.Post(s.ctx, s.tenantID, models.PostRequest{
		Reference: ref,
		Source:    models.SourceDeposit,
		Currency:  "USD",
		ValueDate: valueDate,
		Lines:     lines,
	})
}

func (s *LedgerServiceSuite) balance(code string) decimal.Decimal {
	b, err := s.service.Balance(s.ctx, s.tenantID, code, time.Time{})
	s.Require().NoError(err)
	return b.Balance
}

func (s *LedgerServiceSuite) TestSeedDefaultChartIsIdempotent() {
	s.Require().NoError(s.service.SeedDefaultChart(s.ctx, s.tenantID, "USD"))
	accounts, err := s.service.ListAccounts(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.Len(accounts, len(models.DefaultChart))
	s.Equal(models.CodeCash, accounts[0].Code)
}

func (s *LedgerServiceSuite) TestPost() {
	s.Run("balanced journal moves balances", func() {
		j, err := s.post("DEP-1", time.Time{},
			models.Debit(models.CodeCash, d("250.00"), ""),
			models.Credit(models.CodeCustomerDeposits, d("250.00"), ""),
		)
		s.Require().NoError(err)
		s.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), j.ValueDate)
		s.True(s.balance(models.CodeCash).Equal(d("250")))
		s.True(s.balance(models.CodeCustomerDeposits).Equal(d("250")))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.JournalsPosted.WithLabelValues("deposit")))
	})

	s.Run("duplicate reference is a conflict", func() {
		_, err := s.post("DEP-1", time.Time{},
			models.Debit(models.CodeCash, d("1"), ""),
			models.Credit(models.CodeCustomerDeposits, d("1"), ""),
		)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.True(s.balance(models.CodeCash).Equal(d("250")))
	})

	s.Run("unknown account is not found", func() {
		_, err := s.post("DEP-2", time.Time{},
			models.Debit("9999", d("1"), ""),
			models.Credit(models.CodeCustomerDeposits, d("1"), ""),
		)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unbalanced journal rejected", func() {
		_, err := s.post("DEP-3", time.Time{},
			models.Debit(models.CodeCash, d("10"), ""),
			models.Credit(models.CodeCustomerDeposits, d("9"), ""),
		)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.PostingsRejected.WithLabelValues("validation_error")))
	})

	s.Run("currency mismatch rejected", func() {
		_, err := s.service.Post(s.ctx, s.tenantID, models.PostRequest{
			Reference: "DEP-4",
			Currency:  "EUR",
			Lines: []models.Line{
				models.Debit(models.CodeCash, d("10"), ""),
				models.Credit(models.CodeCustomerDeposits, d("10"), ""),
			},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "denominated in USD")
	})
}

func (s *LedgerServiceSuite) TestPostEmitsAuditEvent() {
	j, err := s.post("DEP-9", time.Time{},
		models.Debit(models.CodeCash, d("5"), ""),
		models.Credit(models.CodeCustomerDeposits, d("5"), ""),
	)
	s.Require().NoError(err)

	events, err := s.audit.List(s.ctx, s.tenantID, audit.Filter{Action: audit.ActionJournalPosted})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(j.ID.String(), events[0].EntityID)
	s.Equal("5.00", events[0].Details["amount"])
}

func (s *LedgerServiceSuite) TestReverse() {
	orig, err := s.post("DEP-10", time.Time{},
		models.Debit(models.CodeCash, d("80"), ""),
		models.Credit(models.CodeCustomerDeposits, d("80"), ""),
	)
	s.Require().NoError(err)

	s.Run("reason is required", func() {
		_, err := s.service.Reverse(s.ctx, s.tenantID, orig.ID, "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	var rev *models.Journal
	s.Run("mirror journal restores balances", func() {
		rev, err = s.service.Reverse(s.ctx, s.tenantID, orig.ID, "posted to wrong customer")
		s.Require().NoError(err)
		s.Equal("REV-DEP-10", rev.Reference)
		s.Require().NotNil(rev.ReversalOf)
		s.Equal(orig.ID, *rev.ReversalOf)
		s.True(s.balance(models.CodeCash).IsZero())

		reloaded, err := s.service.GetJournal(s.ctx, s.tenantID, orig.ID)
		s.Require().NoError(err)
		s.Require().NotNil(reloaded.ReversedBy)
		s.Equal(rev.ID, *reloaded.ReversedBy)
	})

	s.Run("second reversal is a conflict", func() {
		_, err := s.service.Reverse(s.ctx, s.tenantID, orig.ID, "again")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("reversal cannot be reversed", func() {
		_, err := s.service.Reverse(s.ctx, s.tenantID, rev.ID, "undo the undo")
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("unknown journal", func() {
		_, err := s.service.Reverse(s.ctx, s.tenantID, id.JournalID(uuid.New()), "x")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LedgerServiceSuite) TestReverseFullLengthReference() {
	ref := strings.Repeat("M", 64)
	orig, err := s.service.Post(s.ctx, s.tenantID, models.PostRequest{
		Reference: ref,
		Currency:  "USD",
		Lines: []models.Line{
			models.Debit(models.CodeCash, d("12"), ""),
			models.Credit(models.CodeRetainedEarnings, d("12"), ""),
		},
	})
	s.Require().NoError(err)
	s.Equal(models.SourceManual, orig.Source)

	rev, err := s.service.Reverse(s.ctx, s.tenantID, orig.ID, "keyed twice")
	s.Require().NoError(err)
	s.Equal("REV-"+ref, rev.Reference)
	s.True(s.balance(models.CodeCash).IsZero())

	_, err = s.service.Post(s.ctx, s.tenantID, models.PostRequest{
		Reference: ref + "X",
		Currency:  "USD",
		Lines: []models.Line{
			models.Debit(models.CodeCash, d("1"), ""),
			models.Credit(models.CodeRetainedEarnings, d("1"), ""),
		},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "a manual reference cannot use the reversal allowance")
}

func (s *LedgerServiceSuite) TestTrialBalanceStaysBalanced() {
	_, err := s.post("T-1", time.Time{},
		models.Debit(models.CodeCash, d("1000"), ""),
		models.Credit(models.CodeCustomerDeposits, d("1000"), ""),
	)
	s.Require().NoError(err)
	_, err = s.post("T-2", time.Time{},
		models.Debit(models.CodeLoansPrincipal, d("400"), ""),
		models.Credit(models.CodeCash, d("400"), ""),
	)
	s.Require().NoError(err)
	_, err = s.post("T-3", time.Time{},
		models.Debit(models.CodeCustomerDeposits, d("12.50"), ""),
		models.Credit(models.CodeFeeIncome, d("12.50"), ""),
	)
	s.Require().NoError(err)

	tb, err := s.service.TrialBalance(s.ctx, s.tenantID, time.Time{})
	s.Require().NoError(err)
	s.True(tb.Balanced)
	s.True(tb.TotalDebit.Equal(d("1412.50")))
	s.True(tb.TotalDebit.Equal(tb.TotalCredit))
	s.Len(tb.Rows, len(models.DefaultChart))
}

func (s *LedgerServiceSuite) TestBalanceAsOfExcludesLaterValueDates() {
	day1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	_, err := s.post("A-1", day1, models.Debit(models.CodeCash, d("10"), ""), models.Credit(models.CodeRetainedEarnings, d("10"), ""))
	s.Require().NoError(err)
	_, err = s.post("A-2", day2, models.Debit(models.CodeCash, d("5"), ""), models.Credit(models.CodeRetainedEarnings, d("5"), ""))
	s.Require().NoError(err)

	b, err := s.service.Balance(s.ctx, s.tenantID, models.CodeCash, day1.AddDate(0, 0, 3))
	s.Require().NoError(err)
	s.True(b.Balance.Equal(d("10")))
}

func (s *LedgerServiceSuite) TestStatementRunningBalance() {
	feb := time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)
	mar1 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mar5 := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err := s.post("S-1", feb, models.Debit(models.CodeCash, d("100"), ""), models.Credit(models.CodeCustomerDeposits, d("100"), ""))
	s.Require().NoError(err)
	_, err = s.post("S-2", mar1, models.Debit(models.CodeCash, d("50"), ""), models.Credit(models.CodeCustomerDeposits, d("50"), ""))
	s.Require().NoError(err)
	_, err = s.post("S-3", mar5, models.Debit(models.CodeCustomerDeposits, d("30"), ""), models.Credit(models.CodeCash, d("30"), ""))
	s.Require().NoError(err)

	st, err := s.service.Statement(s.ctx, s.tenantID, models.CodeCustomerDeposits, mar1, mar5)
	s.Require().NoError(err)
	s.True(st.OpeningBalance.Equal(d("100")))
	s.Require().Len(st.Lines, 2)
	s.True(st.Lines[0].RunningBalance.Equal(d("150")))
	s.True(st.Lines[1].RunningBalance.Equal(d("120")))
	s.True(st.ClosingBalance.Equal(d("120")))

	_, err = s.service.Statement(s.ctx, s.tenantID, models.CodeCash, mar5, mar1)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LedgerServiceSuite) TestAccounts() {
	s.Run("create custom account", func() {
		a, err := s.service.CreateAccount(s.ctx, s.tenantID, &models.CreateAccountRequest{
			Code: "1500", Name: "Suspense", Type: models.AccountTypeAsset, Currency: "USD",
		})
		s.Require().NoError(err)
		s.Equal(models.SideDebit, a.NormalBalance)
	})

	s.Run("duplicate code is a conflict", func() {
		_, err := s.service.CreateAccount(s.ctx, s.tenantID, &models.CreateAccountRequest{
			Code: "1500", Name: "Again", Type: models.AccountTypeAsset, Currency: "USD",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("system account cannot be deactivated", func() {
		_, err := s.service.DeactivateAccount(s.ctx, s.tenantID, models.CodeCash)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("non-zero balance blocks deactivation", func() {
		_, err := s.post("SUS-1", time.Time{}, models.Debit("1500", d("3"), ""), models.Credit(models.CodeCash, d("3"), ""))
		s.Require().NoError(err)
		_, err = s.service.DeactivateAccount(s.ctx, s.tenantID, "1500")
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("inactive account rejects postings", func() {
		_, err := s.post("SUS-2", time.Time{}, models.Debit(models.CodeCash, d("3"), ""), models.Credit("1500", d("3"), ""))
		s.Require().NoError(err)
		a, err := s.service.DeactivateAccount(s.ctx, s.tenantID, "1500")
		s.Require().NoError(err)
		s.False(a.Active)

		_, err = s.post("SUS-3", time.Time{}, models.Debit("1500", d("1"), ""), models.Credit(models.CodeCash, d("1"), ""))
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *LedgerServiceSuite) TestJournalExecutor() {
	exec := NewJournalExecutor(s.service)
	payload, err := json.Marshal(models.PostRequest{
		Reference: "JV-100",
		Source:    models.SourceManual,
		Currency:  "USD",
		Narration: "capital injection",
		Lines: []models.Line{
			models.Debit(models.CodeCash, d("5000"), ""),
			models.Credit(models.CodeRetainedEarnings, d("5000"), ""),
		},
	})
	s.Require().NoError(err)

	s.Run("entity must match reference", func() {
		err := exec.Validate(s.ctx, s.tenantID, "JV-OTHER", payload)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("validate then execute posts", func() {
		s.Require().NoError(exec.Validate(s.ctx, s.tenantID, "JV-100", payload))
		s.Require().NoError(exec.Execute(s.ctx, s.tenantID, "JV-100", payload))
		s.True(s.balance(models.CodeRetainedEarnings).Equal(d("5000")))
	})

	s.Run("validate detects posted reference", func() {
		err := exec.Validate(s.ctx, s.tenantID, "JV-100", payload)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("non-manual source rejected", func() {
		bad, _ := json.Marshal(models.PostRequest{
			Reference: "JV-101",
			Source:    models.SourceLoanRepayment,
			Currency:  "USD",
			Lines: []models.Line{
				models.Debit(models.CodeCash, d("1"), ""),
				models.Credit(models.CodeRetainedEarnings, d("1"), ""),
			},
		})
		err := exec.Validate(s.ctx, s.tenantID, "JV-101", bad)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
