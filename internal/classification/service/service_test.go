package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"corebank/internal/classification/metrics"
	"corebank/internal/classification/models"
	"corebank/internal/classification/store"
	depositservice "corebank/internal/deposit/service"
	depositstore "corebank/internal/deposit/store"
	ledgermodels "corebank/internal/ledger/models"
	ledgerservice "corebank/internal/ledger/service"
	ledgerstore "corebank/internal/ledger/store"
	loanmodels "corebank/internal/loan/models"
	loanservice "corebank/internal/loan/service"
	loanstore "corebank/internal/loan/store"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/audit/publisher"
	auditmemory "corebank/pkg/platform/audit/store/memory"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

type ProvisioningSuite struct {
	suite.Suite
	tenantID id.TenantID
	userID   id.UserID
	ledger   *ledgerservice.Service
	loans    *loanservice.Service
	audit    *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	service  *Service

	late, current *loanmodels.Loan
}

func TestProvisioningSuite(t *testing.T) {
	suite.Run(t, new(ProvisioningSuite))
}

func (s *ProvisioningSuite) on(day string) context.Context {
	d := s.date(day)
	ctx := requestcontext.WithPrincipal(context.Background(), s.tenantID, s.userID, []string{"checker"})
	return requestcontext.WithTime(ctx, d.Time.Add(12*time.Hour))
}

func (s *ProvisioningSuite) date(v string) id.Date {
	d, err := id.ParseDate(v)
	s.Require().NoError(err)
	return d
}

func (s *ProvisioningSuite) gl(code string) string {
	b, err := s.ledger.Balance(s.on("2025-12-31"), s.tenantID, code, time.Time{})
	s.Require().NoError(err)
	return b.Balance.StringFixed(2)
}

// SetupTest books two 1200 flat 12% loans on 2025-01-10; installments of
// 112 fall due on the 10th of each month from February.
func (s *ProvisioningSuite) SetupTest() {
	s.tenantID = id.TenantID(uuid.New())
	s.userID = id.UserID(uuid.New())
	ctx := s.on("2025-01-10")

	tx := txcontext.NewMemoryManager()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.audit = auditmemory.NewInMemoryStore()

	s.ledger = ledgerservice.New(ledgerstore.NewInMemoryStore(), tx, ledgerservice.WithLogger(logger))
	s.Require().NoError(s.ledger.SeedDefaultChart(ctx, s.tenantID, "USD"))
	deposits := depositservice.New(depositstore.NewInMemoryStore(), s.ledger, tx, depositservice.WithLogger(logger))
	s.loans = loanservice.New(loanstore.NewInMemoryStore(), s.ledger, deposits, tx, loanservice.WithLogger(logger))

	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = New(store.NewInMemoryStore(), s.loans, s.ledger, tx,
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
		WithMetrics(s.metrics),
		WithLogger(logger),
	)

	s.late = s.book(ctx, "late")
	s.current = s.book(ctx, "current")
	_, err := s.loans.Repay(s.on("2025-03-10"), s.tenantID, s.current.ID, &loanmodels.RepayRequest{
		Amount: decimal.NewFromInt(224), Reference: "TWO-MONTHS",
	})
	s.Require().NoError(err)
}

func (s *ProvisioningSuite) book(ctx context.Context, customer string) *loanmodels.Loan {
	l, err := s.loans.Apply(ctx, s.tenantID, &loanmodels.ApplyRequest{
		CustomerID: customer,
		Currency:   "USD",
		Principal:  decimal.NewFromInt(1200),
		AnnualRate: decimal.NewFromInt(12),
		TermMonths: 12,
		Method:     loanmodels.MethodFlat,
	})
	s.Require().NoError(err)
	l, err = s.loans.Disburse(ctx, s.tenantID, l.ID, id.Date{})
	s.Require().NoError(err)
	return l
}

func (s *ProvisioningSuite) classSummary(sum models.Summary, c models.Class) models.ClassSummary {
	for _, cs := range sum.Classes {
		if cs.Class == c {
			return cs
		}
	}
	s.FailNow("class missing from summary", string(c))
	return models.ClassSummary{}
}

func (s *ProvisioningSuite) TestPreview() {
	preview, err := s.service.Preview(s.on("2025-03-15"), s.tenantID, id.Date{})
	s.Require().NoError(err)
	s.Equal("2025-03-15", preview.AsOf.String())
	s.Require().Len(preview.Loans, 2)

	byLoan := map[id.LoanID]models.LoanProvision{}
	for _, lp := range preview.Loans {
		byLoan[lp.LoanID] = lp
	}
	late := byLoan[s.late.ID]
	s.Equal(33, late.DaysPastDue)
	s.Equal(models.SpecialMention, late.Class)
	s.Equal("60.00", late.Required.StringFixed(2))

	current := byLoan[s.current.ID]
	s.Equal(0, current.DaysPastDue)
	s.Equal(models.Performing, current.Class)
	s.Equal("1000.00", current.Outstanding.StringFixed(2))
	s.Equal("10.00", current.Required.StringFixed(2))

	s.Len(preview.Summary.Classes, 5, "empty classes are still reported")
	s.Equal(1, s.classSummary(preview.Summary, models.SpecialMention).Count)
	s.Equal(0, s.classSummary(preview.Summary, models.Lost).Count)
	s.Equal("70.00", preview.Summary.NetDelta.StringFixed(2))

	_, err = s.service.Preview(s.on("2025-03-15"), s.tenantID, s.date("2025-03-16"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation), "future as-of dates are rejected")

	s.Equal("0.00", s.gl(ledgermodels.CodeImpairmentCharge), "preview posts nothing")
}

func (s *ProvisioningSuite) TestPostRunIncreaseThenRelease() {
	ctx := s.on("2025-03-15")
	run, err := s.service.PostRun(ctx, s.tenantID, id.Date{})
	s.Require().NoError(err)
	s.Require().NotNil(run.JournalID)
	s.Equal(s.userID, run.PostedBy)

	j, err := s.ledger.GetJournalByReference(ctx, s.tenantID, "PROV-20250315")
	s.Require().NoError(err)
	s.Equal(*run.JournalID, j.ID)
	s.Equal("70.00", s.gl(ledgermodels.CodeImpairmentCharge))
	s.Equal("70.00", s.gl(ledgermodels.CodeLoanLossAllowance))

	late, err := s.loans.Get(ctx, s.tenantID, s.late.ID)
	s.Require().NoError(err)
	s.Equal(models.SpecialMention, late.Classification)
	s.Equal(models.Stage2, late.Stage)
	s.Equal("60.00", late.ProvisionHeld.StringFixed(2))

	_, err = s.service.PostRun(ctx, s.tenantID, id.Date{})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict), "one run per date")

	s.Run("unchanged provision posts no journal", func() {
		run, err := s.service.PostRun(s.on("2025-04-15"), s.tenantID, id.Date{})
		s.Require().NoError(err)
		s.Nil(run.JournalID)
		s.True(run.Summary.NetDelta.IsZero())
	})

	s.Run("closed loans release their provision", func() {
		_, err := s.loans.Repay(s.on("2025-04-16"), s.tenantID, s.late.ID, &loanmodels.RepayRequest{
			Amount: decimal.NewFromInt(1236), Reference: "PAYOFF",
		})
		s.Require().NoError(err)

		run, err := s.service.PostRun(s.on("2025-04-20"), s.tenantID, id.Date{})
		s.Require().NoError(err)
		s.Require().NotNil(run.JournalID)
		s.Equal("60.00", run.Summary.Released.StringFixed(2))
		s.Equal("-60.00", run.Summary.NetDelta.StringFixed(2))
		s.Equal("10.00", s.gl(ledgermodels.CodeImpairmentCharge))
		s.Equal("10.00", s.gl(ledgermodels.CodeLoanLossAllowance))

		closed, err := s.loans.Get(ctx, s.tenantID, s.late.ID)
		s.Require().NoError(err)
		s.True(closed.ProvisionHeld.IsZero())
	})

	runs, err := s.service.ListRuns(ctx, s.tenantID, 2)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)
	s.Equal("2025-04-20", runs[0].AsOf.String())

	events, err := s.audit.List(ctx, s.tenantID, audit.Filter{Action: audit.ActionProvisionPosted})
	s.Require().NoError(err)
	s.Len(events, 3)
	s.Equal(float64(3), testutil.ToFloat64(s.metrics.RunsPosted))
}

func (s *ProvisioningSuite) TestLostLoanCanBeWrittenOffAfterRun() {
	ctx := s.on("2026-02-10")
	run, err := s.service.PostRun(ctx, s.tenantID, id.Date{})
	s.Require().NoError(err)
	s.Equal(1, s.classSummary(run.Summary, models.Lost).Count, "365 days past due")
	s.Equal(1, s.classSummary(run.Summary, models.Doubtful).Count, "306 days past due")
	s.Equal("1700.00", s.gl(ledgermodels.CodeLoanLossAllowance))

	written, err := s.loans.WriteOff(ctx, s.tenantID, s.late.ID, id.Date{}, "uncollectable")
	s.Require().NoError(err)
	s.Equal(loanmodels.StatusWrittenOff, written.Status)
	s.Equal("500.00", s.gl(ledgermodels.CodeLoanLossAllowance))
	s.Equal("1000.00", s.gl(ledgermodels.CodeLoansPrincipal))
	s.Equal("1700.00", s.gl(ledgermodels.CodeImpairmentCharge), "fully provisioned, no extra charge")
}

func (s *ProvisioningSuite) TestReport() {
	report, err := s.service.Report(s.on("2025-03-15"), s.tenantID, id.Date{})
	s.Require().NoError(err)
	s.Equal("USD", report.Currency)
	s.Equal(2, report.TotalCount)
	s.Equal("2200.00", report.TotalOutstanding.StringFixed(2))
	s.Equal("70.00", report.TotalProvision.StringFixed(2))
	s.Equal("0.0318", report.Coverage.StringFixed(4))
	s.True(report.NonPerformingRatio.IsZero())
	s.Require().Len(report.Lines, 5)
	s.Equal("0.4545", report.Lines[0].Share.StringFixed(4))
	s.Equal("0.5455", report.Lines[1].Share.StringFixed(4))
}

func (s *ProvisioningSuite) TestExecutor() {
	ctx := s.on("2025-03-15")
	exec := NewPostExecutor(s.service)

	s.Require().NoError(exec.Validate(ctx, s.tenantID, "2025-03-15", nil))
	s.True(dErrors.HasCode(exec.Validate(ctx, s.tenantID, "2025-03-16", nil), dErrors.CodeValidation))
	s.True(dErrors.HasCode(exec.Validate(ctx, s.tenantID, "15/03/2025", nil), dErrors.CodeValidation))
	s.True(dErrors.HasCode(exec.Validate(ctx, s.tenantID, "2025-03-15", []byte(`{"x":1}`)), dErrors.CodeValidation))

	s.Require().NoError(exec.Execute(ctx, s.tenantID, "2025-03-15", []byte(`{"note":"month end"}`)))
	s.True(dErrors.HasCode(exec.Validate(ctx, s.tenantID, "2025-03-15", nil), dErrors.CodeConflict))
}

func TestProvisionLines(t *testing.T) {
	up := provisionLines(decimal.NewFromInt(5))
	require.Len(t, up, 2)
	assert.Equal(t, ledgermodels.CodeImpairmentCharge, up[0].AccountCode)
	assert.Equal(t, ledgermodels.CodeLoanLossAllowance, up[1].AccountCode)

	down := provisionLines(decimal.NewFromInt(-5))
	require.Len(t, down, 2)
	assert.Equal(t, ledgermodels.CodeLoanLossAllowance, down[0].AccountCode)
	assert.Equal(t, "5", down[0].Debit.String())

	assert.Nil(t, provisionLines(decimal.Zero))
	assert.Equal(t, "PROV-20250331", Reference(id.DateOf(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))))
}
