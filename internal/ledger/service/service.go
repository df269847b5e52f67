package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"corebank/internal/ledger/metrics"
	"corebank/internal/ledger/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

var tracer = otel.Tracer("corebank/ledger")

type Store interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	UpdateAccount(ctx context.Context, a *models.Account) error
	FindAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error)
	ListAccounts(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error)
	InsertJournal(ctx context.Context, j *models.Journal) error
	FindJournal(ctx context.Context, tenantID id.TenantID, journalID id.JournalID) (*models.Journal, error)
	FindJournalByReference(ctx context.Context, tenantID id.TenantID, reference string) (*models.Journal, error)
	MarkReversed(ctx context.Context, tenantID id.TenantID, original, reversal id.JournalID) error
	AccountTotals(ctx context.Context, tenantID id.TenantID, code string, through time.Time) (models.Totals, error)
	TrialTotals(ctx context.Context, tenantID id.TenantID, through time.Time) (map[string]models.Totals, error)
	Postings(ctx context.Context, tenantID id.TenantID, code string, from, to time.Time) ([]models.Posting, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the only writer of the general ledger. Every other module posts
// through Post, usually from inside its own transaction.
type Service struct {
	store   Store
	tx      txcontext.Manager
	auditor AuditPublisher
	metrics *metrics.Metrics
	logger  *slog.Logger
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

func New(store Store, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateAccount(ctx context.Context, tenantID id.TenantID, req *models.CreateAccountRequest) (*models.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := models.NewAccount(tenantID, req.Code, req.Name, req.Type, req.NormalBalance, req.Currency, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateAccount(ctx, a); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "account code already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create account")
		}
		return s.emit(ctx, tenantID, audit.ActionGLAccountCreated, a.Code, map[string]string{
			"name": a.Name, "type": string(a.Type), "currency": a.Currency,
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// DeactivateAccount stops further postings to code. The account must carry a
// zero balance and must not be part of the seeded chart.
func (s *Service) DeactivateAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error) {
	if models.IsSystemCode(code) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "system accounts cannot be deactivated")
	}
	var out *models.Account
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.findAccount(ctx, tenantID, code)
		if err != nil {
			return err
		}
		if !a.Active {
			return dErrors.New(dErrors.CodeConflict, "account is already inactive")
		}
		totals, err := s.store.AccountTotals(ctx, tenantID, code, time.Time{})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account balance")
		}
		if !a.Signed(totals).IsZero() {
			return dErrors.New(dErrors.CodeInvariantViolation, "account balance must be zero to deactivate")
		}
		a.Active = false
		if err := s.store.UpdateAccount(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account")
		}
		out = a
		return s.emit(ctx, tenantID, audit.ActionGLAccountDeactivated, a.Code, nil)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) GetAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error) {
	return s.findAccount(ctx, tenantID, code)
}

func (s *Service) ListAccounts(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error) {
	accounts, err := s.store.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list accounts")
	}
	return accounts, nil
}

// SeedDefaultChart creates the standard chart in currency. Accounts that
// already exist are left untouched, so seeding twice is harmless.
func (s *Service) SeedDefaultChart(ctx context.Context, tenantID id.TenantID, currency string) error {
	now := requestcontext.Now(ctx)
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, e := range models.DefaultChart {
			a, err := models.NewAccount(tenantID, e.Code, e.Name, e.Type, e.NormalBalance, currency, now)
			if err != nil {
				return err
			}
			if err := s.store.CreateAccount(ctx, a); err != nil && !errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed chart of accounts")
			}
		}
		return nil
	})
}

// Post validates and records a balanced journal. Called inside an outer
// transaction it joins it, so the caller's own writes commit or fail with the journal.
func (s *Service) Post(ctx context.Context, tenantID id.TenantID, req models.PostRequest) (*models.Journal, error) {
	ctx, span := tracer.Start(ctx, "ledger.Post", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("reference", req.Reference),
		attribute.String("source", string(req.Source)),
	))
	defer span.End()
	start := time.Now()

	journal, err := s.postInTx(ctx, tenantID, req, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		if s.metrics != nil {
			s.metrics.IncrementRejected(string(dErrors.CodeOf(err)))
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementPosted(string(journal.Source))
		s.metrics.ObservePost(start)
	}
	return journal, nil
}

func (s *Service) postInTx(ctx context.Context, tenantID id.TenantID, req models.PostRequest, reversalOf *id.JournalID) (*models.Journal, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if req.ValueDate.IsZero() {
		req.ValueDate = now
	}

	var journal *models.Journal
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.checkAccounts(ctx, tenantID, req); err != nil {
			return err
		}

		j := &models.Journal{
			ID:         id.JournalID(uuid.New()),
			TenantID:   tenantID,
			Reference:  req.Reference,
			Source:     req.Source,
			SourceID:   req.SourceID,
			Currency:   req.Currency,
			Narration:  req.Narration,
			ValueDate:  models.DateOf(req.ValueDate),
			PostedAt:   now,
			PostedBy:   requestcontext.UserID(ctx),
			ReversalOf: reversalOf,
			Lines:      req.Lines,
		}
		if err := s.store.InsertJournal(ctx, j); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "journal reference "+req.Reference+" already posted")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record journal")
		}
		journal = j
		return s.emit(ctx, tenantID, audit.ActionJournalPosted, j.ID.String(), map[string]string{
			"reference": j.Reference,
			"source":    string(j.Source),
			"amount":    j.Total().StringFixed(money.Scale),
			"currency":  j.Currency,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "journal posted",
		"log_type", "audit",
		"tenant_id", tenantID.String(),
		"journal_id", journal.ID.String(),
		"reference", journal.Reference,
		"request_id", requestcontext.RequestID(ctx),
	)
	return journal, nil
}

// Reverse posts the mirror of journalID and links the two. A journal is
// reversed at most once and reversals themselves cannot be reversed.
func (s *Service) Reverse(ctx context.Context, tenantID id.TenantID, journalID id.JournalID, reason string) (*models.Journal, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reverse", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("journal_id", journalID.String()),
	))
	defer span.End()

	rr := models.ReverseRequest{Reason: reason}
	rr.Normalize()
	if err := rr.Validate(); err != nil {
		return nil, err
	}

	var reversal *models.Journal
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		original, err := s.GetJournal(ctx, tenantID, journalID)
		if err != nil {
			return err
		}
		if original.IsReversal() {
			return dErrors.New(dErrors.CodeInvariantViolation, "a reversal journal cannot be reversed")
		}
		if original.IsReversed() {
			return dErrors.New(dErrors.CodeConflict, "journal has already been reversed")
		}

		req := models.ReversalOf(original, rr.Reason, requestcontext.Now(ctx))
		reversal, err = s.postInTx(ctx, tenantID, req, &original.ID)
		if err != nil {
			return err
		}
		if err := s.store.MarkReversed(ctx, tenantID, original.ID, reversal.ID); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "journal has already been reversed")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link reversal")
		}
		return s.emit(ctx, tenantID, audit.ActionJournalReversed, original.ID.String(), map[string]string{
			"reversal_id": reversal.ID.String(),
			"reason":      rr.Reason,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementReversed()
	}
	return reversal, nil
}

func (s *Service) GetJournal(ctx context.Context, tenantID id.TenantID, journalID id.JournalID) (*models.Journal, error) {
	j, err := s.store.FindJournal(ctx, tenantID, journalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "journal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load journal")
	}
	return j, nil
}

func (s *Service) GetJournalByReference(ctx context.Context, tenantID id.TenantID, reference string) (*models.Journal, error) {
	j, err := s.store.FindJournalByReference(ctx, tenantID, reference)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "journal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load journal")
	}
	return j, nil
}

// Balance returns the balance of code through asOf, signed by its normal side.
// A zero asOf means all postings.
func (s *Service) Balance(ctx context.Context, tenantID id.TenantID, code string, asOf time.Time) (*models.Balance, error) {
	a, err := s.findAccount(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	through := dateOrZero(asOf)
	totals, err := s.store.AccountTotals(ctx, tenantID, code, through)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account totals")
	}
	return &models.Balance{
		Code:          a.Code,
		Name:          a.Name,
		NormalBalance: a.NormalBalance,
		Currency:      a.Currency,
		AsOf:          through,
		Debits:        totals.Debit,
		Credits:       totals.Credit,
		Balance:       a.Signed(totals),
	}, nil
}

func (s *Service) TrialBalance(ctx context.Context, tenantID id.TenantID, asOf time.Time) (*models.TrialBalance, error) {
	accounts, err := s.ListAccounts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	through := dateOrZero(asOf)
	totals, err := s.store.TrialTotals(ctx, tenantID, through)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load trial balance")
	}

	tb := &models.TrialBalance{AsOf: through, TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, a := range accounts {
		t := totals[a.Code]
		tb.Rows = append(tb.Rows, models.TrialBalanceRow{
			Code:    a.Code,
			Name:    a.Name,
			Type:    a.Type,
			Debit:   t.Debit,
			Credit:  t.Credit,
			Balance: a.Signed(t),
		})
		tb.TotalDebit = tb.TotalDebit.Add(t.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(t.Credit)
	}
	tb.Balanced = tb.TotalDebit.Equal(tb.TotalCredit)
	if !tb.Balanced {
		s.logger.ErrorContext(ctx, "trial balance out of balance",
			"tenant_id", tenantID.String(),
			"total_debit", tb.TotalDebit.String(),
			"total_credit", tb.TotalCredit.String(),
		)
	}
	return tb, nil
}

// Statement lists the lines touching code between from and to inclusive,
// with the opening balance carried from everything before from.
func (s *Service) Statement(ctx context.Context, tenantID id.TenantID, code string, from, to time.Time) (*models.Statement, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return nil, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	a, err := s.findAccount(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	opening, err := s.store.AccountTotals(ctx, tenantID, code, from.AddDate(0, 0, -1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load opening balance")
	}
	postings, err := s.store.Postings(ctx, tenantID, code, from, to)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load postings")
	}

	st := &models.Statement{
		Code:           a.Code,
		Name:           a.Name,
		From:           from,
		To:             to,
		OpeningBalance: a.Signed(opening),
	}
	running := st.OpeningBalance
	for _, p := range postings {
		running = running.Add(a.Signed(models.Totals{Debit: p.Debit, Credit: p.Credit}))
		st.Lines = append(st.Lines, models.StatementLine{Posting: p, RunningBalance: running})
	}
	st.ClosingBalance = running
	return st, nil
}

func (s *Service) checkAccounts(ctx context.Context, tenantID id.TenantID, req models.PostRequest) error {
	for _, l := range req.Lines {
		a, err := s.findAccount(ctx, tenantID, l.AccountCode)
		if err != nil {
			return err
		}
		if !a.Active {
			return dErrors.New(dErrors.CodeInvariantViolation, "account "+a.Code+" is inactive")
		}
		if a.Currency != req.Currency {
			return dErrors.New(dErrors.CodeValidation, "account "+a.Code+" is denominated in "+a.Currency+", journal is "+req.Currency)
		}
	}
	return nil
}

func (s *Service) findAccount(ctx context.Context, tenantID id.TenantID, code string) (*models.Account, error) {
	a, err := s.store.FindAccount(ctx, tenantID, code)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "account "+code+" not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	return a, nil
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, action audit.Action, entityID string, details map[string]string) error {
	if s.auditor == nil {
		return nil
	}
	entityType := "gl_account"
	if action == audit.ActionJournalPosted || action == audit.ActionJournalReversed {
		entityType = "journal"
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}

func dateOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return models.DateOf(t)
}
