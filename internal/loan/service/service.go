package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	class "corebank/internal/classification/models"
	depositmodels "corebank/internal/deposit/models"
	ledger "corebank/internal/ledger/models"
	"corebank/internal/loan/metrics"
	"corebank/internal/loan/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

var tracer = otel.Tracer("corebank/loan")

type Store interface {
	Create(ctx context.Context, l *models.Loan) error
	Update(ctx context.Context, l *models.Loan) error
	FindByID(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error)
	List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Loan, error)
	CreateRepayment(ctx context.Context, r *models.Repayment) error
	FindRepayment(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, reference string) (*models.Repayment, error)
	ListRepayments(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]*models.Repayment, error)
}

type Ledger interface {
	Post(ctx context.Context, tenantID id.TenantID, req ledger.PostRequest) (*ledger.Journal, error)
	GetAccount(ctx context.Context, tenantID id.TenantID, code string) (*ledger.Account, error)
}

// Deposits moves settlement account balances. The loan service posts the
// matching journal itself.
type Deposits interface {
	Get(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*depositmodels.Account, error)
	Credit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, amount decimal.Decimal) (*depositmodels.Account, error)
	Debit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, amount decimal.Decimal) (*depositmodels.Account, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Service struct {
	store    Store
	ledger   Ledger
	deposits Deposits
	tx       txcontext.Manager
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(store Store, ledger Ledger, deposits Deposits, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger, deposits: deposits, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Apply(ctx context.Context, tenantID id.TenantID, req *models.ApplyRequest) (*models.Loan, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	gl, err := s.ledger.GetAccount(ctx, tenantID, ledger.CodeLoansPrincipal)
	if err != nil {
		return nil, err
	}
	if gl.Currency != req.Currency {
		return nil, dErrors.New(dErrors.CodeValidation, "currency "+req.Currency+" is not supported; ledger currency is "+gl.Currency)
	}
	if req.SettlementAccountID != nil {
		if _, err := s.settlementAccount(ctx, tenantID, *req.SettlementAccountID, req.Currency); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	applied := req.ApplicationDate
	if applied.IsZero() {
		applied = id.DateOf(now)
	}
	l := &models.Loan{
		ID:                  id.LoanID(uuid.New()),
		TenantID:            tenantID,
		CustomerID:          req.CustomerID,
		SettlementAccountID: req.SettlementAccountID,
		Currency:            req.Currency,
		Principal:           req.Principal,
		AnnualRate:          req.AnnualRate,
		TermMonths:          req.TermMonths,
		Method:              req.Method,
		Collateral:          req.Collateral,
		Status:              models.StatusApplied,
		ApplicationDate:     applied,
		Outstanding:         decimal.Zero,
		Classification:      class.Performing,
		Stage:               class.Stage1,
		ProvisionHeld:       decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record loan application")
		}
		return s.emit(ctx, tenantID, audit.ActionLoanApplied, l.ID, map[string]string{
			"customer_id": l.CustomerID,
			"principal":   l.Principal.StringFixed(money.Scale),
			"term_months": strconv.Itoa(l.TermMonths),
			"method":      string(l.Method),
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementApplied()
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error) {
	l, err := s.store.FindByID(ctx, tenantID, loanID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "loan not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load loan")
	}
	return l, nil
}

func (s *Service) List(ctx context.Context, tenantID id.TenantID, filter models.ListFilter) ([]*models.Loan, error) {
	loans, err := s.store.List(ctx, tenantID, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list loans")
	}
	return loans, nil
}

// Schedule returns the booked schedule, or for a loan not yet disbursed the
// schedule it would get if disbursed on its application date.
func (s *Service) Schedule(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]models.Installment, error) {
	l, err := s.Get(ctx, tenantID, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.StatusApplied {
		return l.Schedule, nil
	}
	return models.BuildSchedule(l.Principal, l.AnnualRate, l.TermMonths, l.Method, l.ApplicationDate.AddMonths(1))
}

func (s *Service) Repayments(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) ([]*models.Repayment, error) {
	if _, err := s.Get(ctx, tenantID, loanID); err != nil {
		return nil, err
	}
	out, err := s.store.ListRepayments(ctx, tenantID, loanID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list repayments")
	}
	return out, nil
}

// Position reports delinquency and payoff on asOf; zero means today.
func (s *Service) Position(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, asOf id.Date) (*models.Position, error) {
	l, err := s.Get(ctx, tenantID, loanID)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = id.DateOf(requestcontext.Now(ctx))
	}
	return &models.Position{
		LoanID:      l.ID,
		Status:      l.Status,
		AsOf:        asOf,
		DaysPastDue: l.DaysPastDue(asOf),
		Arrears:     l.Arrears(asOf),
		Payoff:      l.PayoffAmount(asOf),
	}, nil
}

// Disburse activates an applied loan: it books the schedule, posts
// Dr Loans principal against the settlement account (or cash) and credits
// the settlement account.
func (s *Service) Disburse(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, valueDate id.Date) (*models.Loan, error) {
	ctx, span := tracer.Start(ctx, "loan.Disburse")
	defer span.End()
	span.SetAttributes(attribute.String("loan_id", loanID.String()))

	if valueDate.IsZero() {
		valueDate = id.DateOf(requestcontext.Now(ctx))
	}

	var out *models.Loan
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		l, err := s.loadForDisbursement(ctx, tenantID, loanID, valueDate)
		if err != nil {
			return err
		}
		schedule, err := models.BuildSchedule(l.Principal, l.AnnualRate, l.TermMonths, l.Method, valueDate.AddMonths(1))
		if err != nil {
			return err
		}

		creditCode, memo := ledger.CodeCash, "cash disbursement"
		if l.SettlementAccountID != nil {
			creditCode, memo = ledger.CodeCustomerDeposits, "credit to settlement account"
		}
		journal, err := s.ledger.Post(ctx, tenantID, ledger.PostRequest{
			Reference: "LN-DISB-" + l.ID.String(),
			Source:    ledger.SourceLoanDisbursement,
			SourceID:  l.ID.String(),
			Currency:  l.Currency,
			Narration: "loan disbursement " + l.CustomerID,
			ValueDate: valueDate.Time,
			Lines: []ledger.Line{
				ledger.Debit(ledger.CodeLoansPrincipal, l.Principal, ""),
				ledger.Credit(creditCode, l.Principal, memo),
			},
		})
		if err != nil {
			return err
		}
		if l.SettlementAccountID != nil {
			if _, err := s.deposits.Credit(ctx, tenantID, *l.SettlementAccountID, l.Principal); err != nil {
				return err
			}
		}

		jid := journal.ID
		l.Status = models.StatusActive
		l.DisbursedAt = valueDate
		l.FirstDueDate = schedule[0].DueDate
		l.Schedule = schedule
		l.DisbursementJournalID = &jid
		l.UpdatedAt = requestcontext.Now(ctx)
		l.Recompute()
		if err := s.store.Update(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate loan")
		}
		out = l
		return s.emit(ctx, tenantID, audit.ActionLoanDisbursed, l.ID, map[string]string{
			"principal":  l.Principal.StringFixed(money.Scale),
			"value_date": valueDate.String(),
			"journal_id": jid.String(),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementDisbursed()
	}
	s.logger.InfoContext(ctx, "loan disbursed",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"loan_id", out.ID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return out, nil
}

func (s *Service) loadForDisbursement(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, valueDate id.Date) (*models.Loan, error) {
	l, err := s.Get(ctx, tenantID, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.StatusApplied {
		return nil, dErrors.New(dErrors.CodeConflict, "loan is "+string(l.Status)+"; only applied loans can be disbursed")
	}
	if valueDate.Before(l.ApplicationDate) {
		return nil, dErrors.New(dErrors.CodeValidation, "value date cannot precede the application date")
	}
	if l.SettlementAccountID != nil {
		a, err := s.settlementAccount(ctx, tenantID, *l.SettlementAccountID, l.Currency)
		if err != nil {
			return nil, err
		}
		if err := a.CanCredit(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Repay allocates a repayment and posts Dr Cash (or Customer deposits) /
// Cr Interest income / Cr Loans principal. A reference already applied to
// the loan returns the original repayment without posting again.
func (s *Service) Repay(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, req *models.RepayRequest) (*models.RepaymentResult, error) {
	ctx, span := tracer.Start(ctx, "loan.Repay")
	defer span.End()
	span.SetAttributes(
		attribute.String("loan_id", loanID.String()),
		attribute.String("channel", string(req.Channel)),
	)
	start := time.Now()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	valueDate := req.ValueDate
	if valueDate.IsZero() {
		valueDate = id.DateOf(requestcontext.Now(ctx))
	}

	var result *models.RepaymentResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// The loan row lock serialises same-reference retries before the lookup.
		l, err := s.Get(ctx, tenantID, loanID)
		if err != nil {
			return err
		}
		if prior, err := s.store.FindRepayment(ctx, tenantID, loanID, req.Reference); err == nil {
			if !prior.Amount.Equal(req.Amount) {
				return dErrors.New(dErrors.CodeConflict, "reference "+req.Reference+" was already used for a different amount")
			}
			result = &models.RepaymentResult{Repayment: prior, Loan: l, Replayed: true}
			return nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check repayment reference")
		}

		if req.Channel == models.ChannelAccount {
			if l.SettlementAccountID == nil {
				return dErrors.New(dErrors.CodeValidation, "loan has no settlement account to debit")
			}
			a, err := s.deposits.Get(ctx, tenantID, *l.SettlementAccountID)
			if err != nil {
				return err
			}
			if err := a.CanDebit(req.Amount); err != nil {
				return err
			}
		}

		now := requestcontext.Now(ctx)
		updated := l.Clone()
		alloc, err := updated.ApplyRepayment(req.Amount, valueDate, now)
		if err != nil {
			return err
		}

		debitCode := ledger.CodeCash
		if req.Channel == models.ChannelAccount {
			debitCode = ledger.CodeCustomerDeposits
		}
		lines := []ledger.Line{ledger.Debit(debitCode, req.Amount, "")}
		if alloc.Interest.IsPositive() {
			lines = append(lines, ledger.Credit(ledger.CodeInterestIncome, alloc.Interest, "interest"))
		}
		if alloc.Principal.IsPositive() {
			lines = append(lines, ledger.Credit(ledger.CodeLoansPrincipal, alloc.Principal, "principal"))
		}
		journal, err := s.ledger.Post(ctx, tenantID, ledger.PostRequest{
			Reference: "LN-REP-" + l.ID.String() + "-" + req.Reference,
			Source:    ledger.SourceLoanRepayment,
			SourceID:  l.ID.String(),
			Currency:  l.Currency,
			Narration: "loan repayment " + req.Reference,
			ValueDate: valueDate.Time,
			Lines:     lines,
		})
		if err != nil {
			return err
		}
		if req.Channel == models.ChannelAccount {
			if _, err := s.deposits.Debit(ctx, tenantID, *l.SettlementAccountID, req.Amount); err != nil {
				return err
			}
		}
		if err := s.store.Update(ctx, updated); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update loan schedule")
		}
		repayment := &models.Repayment{
			ID:            uuid.New(),
			TenantID:      tenantID,
			LoanID:        l.ID,
			Reference:     req.Reference,
			Amount:        req.Amount,
			InterestPaid:  alloc.Interest,
			PrincipalPaid: alloc.Principal,
			Channel:       req.Channel,
			ValueDate:     valueDate,
			JournalID:     journal.ID,
			CreatedAt:     now,
		}
		if err := s.store.CreateRepayment(ctx, repayment); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "reference "+req.Reference+" already applied")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record repayment")
		}
		result = &models.RepaymentResult{Repayment: repayment, Loan: updated}

		if err := s.emit(ctx, tenantID, audit.ActionLoanRepaid, l.ID, map[string]string{
			"amount":     req.Amount.StringFixed(money.Scale),
			"interest":   alloc.Interest.StringFixed(money.Scale),
			"principal":  alloc.Principal.StringFixed(money.Scale),
			"reference":  req.Reference,
			"journal_id": journal.ID.String(),
		}); err != nil {
			return err
		}
		if alloc.Closed {
			return s.emit(ctx, tenantID, audit.ActionLoanClosed, l.ID, nil)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRepay(start)
		switch {
		case result.Replayed:
			s.metrics.IncrementReplay()
		default:
			s.metrics.IncrementRepayment(string(req.Channel))
			if result.Loan.Status == models.StatusClosed {
				s.metrics.IncrementClosed()
			}
		}
	}
	return result, nil
}

// WriteOff removes a Lost loan from the book: the provision held is used
// first (Dr Loan loss allowance), any shortfall is charged to impairment
// (Dr Impairment charge), and outstanding principal is credited out.
// Provision held above the outstanding amount is released back to impairment.
func (s *Service) WriteOff(ctx context.Context, tenantID id.TenantID, loanID id.LoanID, valueDate id.Date, reason string) (*models.Loan, error) {
	if valueDate.IsZero() {
		valueDate = id.DateOf(requestcontext.Now(ctx))
	}

	var out *models.Loan
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		l, err := s.loadForWriteOff(ctx, tenantID, loanID)
		if err != nil {
			return err
		}
		journal, err := s.ledger.Post(ctx, tenantID, ledger.PostRequest{
			Reference: "LN-WO-" + l.ID.String(),
			Source:    ledger.SourceLoanWriteOff,
			SourceID:  l.ID.String(),
			Currency:  l.Currency,
			Narration: writeOffNarration(reason),
			ValueDate: valueDate.Time,
			Lines:     writeOffLines(l.Outstanding, l.ProvisionHeld),
		})
		if err != nil {
			return err
		}

		jid := journal.ID
		written := l.Outstanding
		l.Status = models.StatusWrittenOff
		l.ProvisionHeld = decimal.Zero
		l.WriteOffJournalID = &jid
		l.UpdatedAt = requestcontext.Now(ctx)
		l.Recompute()
		if err := s.store.Update(ctx, l); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to write off loan")
		}
		out = l
		return s.emit(ctx, tenantID, audit.ActionLoanWrittenOff, l.ID, map[string]string{
			"amount":     written.StringFixed(money.Scale),
			"journal_id": jid.String(),
			"reason":     reason,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementWrittenOff()
	}
	return out, nil
}

func (s *Service) loadForWriteOff(ctx context.Context, tenantID id.TenantID, loanID id.LoanID) (*models.Loan, error) {
	l, err := s.Get(ctx, tenantID, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.StatusActive {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "only active loans can be written off")
	}
	if l.Classification != class.Lost {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "only loans classified lost can be written off")
	}
	return l, nil
}

func writeOffLines(outstanding, held decimal.Decimal) []ledger.Line {
	var lines []ledger.Line
	if held.IsPositive() {
		lines = append(lines, ledger.Debit(ledger.CodeLoanLossAllowance, held, "provision used"))
	}
	switch {
	case outstanding.GreaterThan(held):
		lines = append(lines, ledger.Debit(ledger.CodeImpairmentCharge, outstanding.Sub(held), "shortfall"))
	case held.GreaterThan(outstanding):
		lines = append(lines, ledger.Credit(ledger.CodeImpairmentCharge, held.Sub(outstanding), "excess provision released"))
	}
	return append(lines, ledger.Credit(ledger.CodeLoansPrincipal, outstanding, "principal written off"))
}

func writeOffNarration(reason string) string {
	if reason == "" {
		return "loan write-off"
	}
	return "loan write-off: " + reason
}

// ApplyClassification stores the outcome of a provisioning run on each loan.
// It must run inside the caller's transaction.
func (s *Service) ApplyClassification(ctx context.Context, tenantID id.TenantID, updates []models.ClassificationUpdate) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		for _, u := range updates {
			l, err := s.Get(ctx, tenantID, u.LoanID)
			if err != nil {
				return err
			}
			l.Classification = u.Class
			l.Stage = u.Stage
			l.ProvisionHeld = u.ProvisionHeld
			l.UpdatedAt = now
			if err := s.store.Update(ctx, l); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update loan classification")
			}
		}
		return nil
	})
}

func (s *Service) settlementAccount(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, currency string) (*depositmodels.Account, error) {
	a, err := s.deposits.Get(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	if a.Currency != currency {
		return nil, dErrors.New(dErrors.CodeValidation, "settlement account currency does not match the loan")
	}
	if a.Status == depositmodels.StatusClosed {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "settlement account is closed")
	}
	return a, nil
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, action audit.Action, loanID id.LoanID, details map[string]string) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     action,
		EntityType: "loan",
		EntityID:   loanID.String(),
		Details:    details,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
