package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"corebank/internal/deposit/metrics"
	"corebank/internal/deposit/models"
	ledger "corebank/internal/ledger/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
	audit "corebank/pkg/platform/audit"
	"corebank/pkg/platform/sentinel"
	txcontext "corebank/pkg/platform/tx"
	"corebank/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, a *models.Account) error
	Update(ctx context.Context, a *models.Account) error
	FindByID(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error)
	FindByNumber(ctx context.Context, tenantID id.TenantID, number string) (*models.Account, error)
}

// Ledger is the part of the GL the deposit module posts through.
type Ledger interface {
	Post(ctx context.Context, tenantID id.TenantID, req ledger.PostRequest) (*ledger.Journal, error)
	GetAccount(ctx context.Context, tenantID id.TenantID, code string) (*ledger.Account, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const numberAttempts = 5

type Service struct {
	store   Store
	ledger  Ledger
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

func New(store Store, ledger Ledger, tx txcontext.Manager, opts ...Option) *Service {
	s := &Service{store: store, ledger: ledger, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Open(ctx context.Context, tenantID id.TenantID, req *models.OpenRequest) (*models.Account, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkLedgerCurrency(ctx, tenantID, req.Currency); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var account *models.Account
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for attempt := 0; attempt < numberAttempts; attempt++ {
			number, err := models.GenerateNumber()
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate account number")
			}
			a := &models.Account{
				ID:         id.AccountID(uuid.New()),
				TenantID:   tenantID,
				CustomerID: req.CustomerID,
				Number:     number,
				Currency:   req.Currency,
				Balance:    decimal.Zero,
				Status:     models.StatusActive,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			err = s.store.Create(ctx, a)
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to open account")
			}
			account = a
			return s.emit(ctx, tenantID, audit.ActionDepositOpened, a, map[string]string{
				"number":      a.Number,
				"customer_id": a.CustomerID,
				"currency":    a.Currency,
			})
		}
		return dErrors.New(dErrors.CodeInternal, "failed to allocate a unique account number")
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementOpened()
	}
	return account, nil
}

func (s *Service) Get(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	a, err := s.store.FindByID(ctx, tenantID, accountID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "deposit account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deposit account")
	}
	return a, nil
}

func (s *Service) GetByNumber(ctx context.Context, tenantID id.TenantID, number string) (*models.Account, error) {
	if !models.IsValidNumber(number) {
		return nil, dErrors.New(dErrors.CodeValidation, "account number must be 10 digits")
	}
	a, err := s.store.FindByNumber(ctx, tenantID, number)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "deposit account not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deposit account")
	}
	return a, nil
}

// Deposit takes cash in: Dr Cash, Cr Customer deposits.
func (s *Service) Deposit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error) {
	return s.move(ctx, tenantID, accountID, req, movement{
		kind:      "deposit",
		refPrefix: "DEP-",
		action:    audit.ActionDepositCredited,
		credit:    true,
		lines: func(amt decimal.Decimal) []ledger.Line {
			return []ledger.Line{
				ledger.Debit(ledger.CodeCash, amt, "cash deposit"),
				ledger.Credit(ledger.CodeCustomerDeposits, amt, ""),
			}
		},
	})
}

// Withdraw pays cash out: Dr Customer deposits, Cr Cash.
func (s *Service) Withdraw(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error) {
	return s.move(ctx, tenantID, accountID, req, movement{
		kind:      "withdrawal",
		refPrefix: "WDL-",
		action:    audit.ActionDepositDebited,
		lines: func(amt decimal.Decimal) []ledger.Line {
			return []ledger.Line{
				ledger.Debit(ledger.CodeCustomerDeposits, amt, ""),
				ledger.Credit(ledger.CodeCash, amt, "cash withdrawal"),
			}
		},
	})
}

// ChargeFee debits a fee to income: Dr Customer deposits, Cr Fee income.
func (s *Service) ChargeFee(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest) (*models.Movement, error) {
	return s.move(ctx, tenantID, accountID, req, movement{
		kind:      "fee",
		refPrefix: "FEE-",
		action:    audit.ActionDepositFee,
		lines: func(amt decimal.Decimal) []ledger.Line {
			return []ledger.Line{
				ledger.Debit(ledger.CodeCustomerDeposits, amt, ""),
				ledger.Credit(ledger.CodeFeeIncome, amt, req.Narration),
			}
		},
	})
}

type movement struct {
	kind      string
	refPrefix string
	action    audit.Action
	credit    bool
	lines     func(amount decimal.Decimal) []ledger.Line
}

func (s *Service) move(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, req *models.MovementRequest, m movement) (*models.Movement, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var out *models.Movement
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if m.credit {
			err = a.CanCredit()
		} else {
			err = a.CanDebit(req.Amount)
		}
		if err != nil {
			return err
		}

		narration := req.Narration
		if narration == "" {
			narration = m.kind + " " + a.Number
		}
		journal, err := s.ledger.Post(ctx, tenantID, ledger.PostRequest{
			Reference: m.refPrefix + a.Number + "-" + req.Reference,
			Source:    ledger.SourceDeposit,
			SourceID:  a.ID.String(),
			Currency:  a.Currency,
			Narration: narration,
			Lines:     m.lines(req.Amount),
		})
		if err != nil {
			return err
		}

		now := requestcontext.Now(ctx)
		if m.credit {
			a.ApplyCredit(req.Amount, now)
		} else {
			a.ApplyDebit(req.Amount, now)
		}
		if err := s.store.Update(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update deposit balance")
		}
		out = &models.Movement{Account: a, JournalID: journal.ID, Amount: req.Amount}
		return s.emit(ctx, tenantID, m.action, a, map[string]string{
			"amount":     req.Amount.StringFixed(money.Scale),
			"journal_id": journal.ID.String(),
			"reference":  req.Reference,
		})
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementMovement(m.kind)
	}
	return out, nil
}

// Credit raises the balance without posting. The caller posts the matching
// journal in the same transaction; loan disbursement uses it.
func (s *Service) Credit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, amount decimal.Decimal) (*models.Account, error) {
	var out *models.Account
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if err := a.CanCredit(); err != nil {
			return err
		}
		a.ApplyCredit(amount, requestcontext.Now(ctx))
		if err := s.store.Update(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update deposit balance")
		}
		out = a
		return nil
	})
	return out, err
}

// Debit lowers the balance without posting. The caller posts the matching
// journal in the same transaction; loan repayment from an account uses it.
func (s *Service) Debit(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, amount decimal.Decimal) (*models.Account, error) {
	var out *models.Account
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if err := a.CanDebit(amount); err != nil {
			return err
		}
		a.ApplyDebit(amount, requestcontext.Now(ctx))
		if err := s.store.Update(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update deposit balance")
		}
		out = a
		return nil
	})
	return out, err
}

func (s *Service) Freeze(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	return s.transition(ctx, tenantID, accountID, audit.ActionDepositFrozen, func(a *models.Account) error {
		return a.Freeze(requestcontext.Now(ctx))
	})
}

func (s *Service) Unfreeze(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	return s.transition(ctx, tenantID, accountID, audit.ActionDepositUnfrozen, func(a *models.Account) error {
		return a.Unfreeze(requestcontext.Now(ctx))
	})
}

func (s *Service) Close(ctx context.Context, tenantID id.TenantID, accountID id.AccountID) (*models.Account, error) {
	return s.transition(ctx, tenantID, accountID, audit.ActionDepositClosed, func(a *models.Account) error {
		return a.Close(requestcontext.Now(ctx))
	})
}

func (s *Service) transition(ctx context.Context, tenantID id.TenantID, accountID id.AccountID, action audit.Action, apply func(*models.Account) error) (*models.Account, error) {
	var out *models.Account
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.Get(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		if err := apply(a); err != nil {
			return err
		}
		if err := s.store.Update(ctx, a); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update deposit account")
		}
		out = a
		return s.emit(ctx, tenantID, action, a, map[string]string{"status": string(a.Status)})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkLedgerCurrency refuses accounts the GL could never post for.
func (s *Service) checkLedgerCurrency(ctx context.Context, tenantID id.TenantID, currency string) error {
	gl, err := s.ledger.GetAccount(ctx, tenantID, ledger.CodeCustomerDeposits)
	if err != nil {
		return err
	}
	if gl.Currency != currency {
		return dErrors.New(dErrors.CodeValidation, "currency "+currency+" is not supported; ledger currency is "+gl.Currency)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, action audit.Action, a *models.Account, details map[string]string) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		Action:     action,
		EntityType: "deposit_account",
		EntityID:   a.ID.String(),
		Details:    details,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record audit event")
	}
	return nil
}
