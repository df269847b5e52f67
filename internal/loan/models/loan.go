package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	class "corebank/internal/classification/models"
	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

type Status string

const (
	StatusApplied    Status = "applied"
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
	StatusWrittenOff Status = "written_off"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusApplied, StatusActive, StatusClosed, StatusWrittenOff:
		return true
	}
	return false
}

type Method string

const (
	MethodAnnuity Method = "annuity"
	MethodFlat    Method = "flat"
)

func (m Method) IsValid() bool {
	return m == MethodAnnuity || m == MethodFlat
}

// Limits on a loan application.
const (
	MaxTermMonths = 600
	MaxRate       = 100
)

// Loan is a term loan with a fixed monthly repayment schedule.
//
// Invariants:
//   - Schedule principals sum to Principal exactly once disbursed
//   - Outstanding equals Principal less principal repaid while active
//   - ProvisionHeld mirrors this loan's share of GL 1190
type Loan struct {
	ID                    id.LoanID       `json:"id"`
	TenantID              id.TenantID     `json:"tenant_id"`
	CustomerID            string          `json:"customer_id"`
	SettlementAccountID   *id.AccountID   `json:"settlement_account_id,omitempty"`
	Currency              string          `json:"currency"`
	Principal             decimal.Decimal `json:"principal"`
	AnnualRate            decimal.Decimal `json:"annual_rate"`
	TermMonths            int             `json:"term_months"`
	Method                Method          `json:"method"`
	Collateral            decimal.Decimal `json:"collateral"`
	Status                Status          `json:"status"`
	ApplicationDate       id.Date         `json:"application_date"`
	DisbursedAt           id.Date         `json:"disbursed_at"`
	FirstDueDate          id.Date         `json:"first_due_date"`
	Schedule              []Installment   `json:"schedule,omitempty"`
	Outstanding           decimal.Decimal `json:"outstanding"`
	Classification        class.Class     `json:"classification"`
	Stage                 class.Stage     `json:"stage"`
	ProvisionHeld         decimal.Decimal `json:"provision_held"`
	DisbursementJournalID *id.JournalID   `json:"disbursement_journal_id,omitempty"`
	WriteOffJournalID     *id.JournalID   `json:"write_off_journal_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Recompute refreshes Outstanding from the schedule.
func (l *Loan) Recompute() {
	if l.Status != StatusActive {
		l.Outstanding = decimal.Zero
		return
	}
	out := decimal.Zero
	for _, in := range l.Schedule {
		out = out.Add(in.PrincipalDue())
	}
	l.Outstanding = out
}

// Clone returns a copy whose schedule can be modified independently.
func (l *Loan) Clone() *Loan {
	cp := *l
	cp.Schedule = append([]Installment(nil), l.Schedule...)
	return &cp
}

// DaysPastDue counts the days since the oldest installment due before asOf
// that is not fully paid. Loans with nothing overdue return 0.
func (l *Loan) DaysPastDue(asOf id.Date) int {
	for _, in := range l.Schedule {
		if !in.DueDate.Before(asOf) {
			break
		}
		if !in.IsPaid() {
			return in.DueDate.DaysUntil(asOf)
		}
	}
	return 0
}

// Arrears is the unpaid amount of installments due on or before asOf.
func (l *Loan) Arrears(asOf id.Date) decimal.Decimal {
	total := decimal.Zero
	for _, in := range l.Schedule {
		if in.DueDate.After(asOf) {
			break
		}
		total = total.Add(in.AmountDue())
	}
	return total
}

// PayoffAmount is the interest due on or before asOf plus all outstanding
// principal. Interest on future installments is not owed at payoff.
func (l *Loan) PayoffAmount(asOf id.Date) Payoff {
	p := Payoff{AsOf: asOf, Interest: decimal.Zero, Principal: decimal.Zero}
	for _, in := range l.Schedule {
		if !in.DueDate.After(asOf) {
			p.Interest = p.Interest.Add(in.InterestDue())
		}
		p.Principal = p.Principal.Add(in.PrincipalDue())
	}
	p.Total = p.Interest.Add(p.Principal)
	return p
}

// Payoff is the amount that closes the loan on AsOf.
type Payoff struct {
	AsOf      id.Date         `json:"as_of"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Total     decimal.Decimal `json:"total"`
}

// Allocation is how a repayment was split.
type Allocation struct {
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Closed    bool            `json:"closed"`
}

// ApplyRepayment allocates amount against the schedule. Installments due on
// or before valueDate take interest then principal, oldest first; whatever
// remains prepays principal of later installments in due order. When no
// principal is left the remaining interest is waived and the loan closes.
// The schedule is untouched when an error is returned.
func (l *Loan) ApplyRepayment(amount decimal.Decimal, valueDate id.Date, now time.Time) (Allocation, error) {
	if l.Status != StatusActive {
		return Allocation{}, dErrors.New(dErrors.CodeInvariantViolation, "only active loans accept repayments")
	}
	if err := money.Positive("amount", amount); err != nil {
		return Allocation{}, err
	}
	if payoff := l.PayoffAmount(valueDate); amount.GreaterThan(payoff.Total) {
		return Allocation{}, dErrors.New(dErrors.CodeValidation,
			"amount exceeds the payoff amount of "+payoff.Total.StringFixed(money.Scale))
	}

	alloc := Allocation{Interest: decimal.Zero, Principal: decimal.Zero}
	left := amount
	take := func(due decimal.Decimal) decimal.Decimal {
		paid := money.Min(due, left)
		left = left.Sub(paid)
		return paid
	}

	for i := range l.Schedule {
		in := &l.Schedule[i]
		if in.DueDate.After(valueDate) || left.IsZero() {
			break
		}
		interest := take(in.InterestDue())
		in.PaidInterest = in.PaidInterest.Add(interest)
		alloc.Interest = alloc.Interest.Add(interest)

		principal := take(in.PrincipalDue())
		in.PaidPrincipal = in.PaidPrincipal.Add(principal)
		alloc.Principal = alloc.Principal.Add(principal)
	}
	for i := range l.Schedule {
		if left.IsZero() {
			break
		}
		in := &l.Schedule[i]
		principal := take(in.PrincipalDue())
		in.PaidPrincipal = in.PaidPrincipal.Add(principal)
		alloc.Principal = alloc.Principal.Add(principal)
	}

	l.Recompute()
	if l.Outstanding.IsZero() {
		for i := range l.Schedule {
			if l.Schedule[i].InterestDue().IsPositive() {
				l.Schedule[i].Waived = true
			}
		}
		l.Status = StatusClosed
		l.Outstanding = decimal.Zero
		alloc.Closed = true
	}
	l.UpdatedAt = now
	return alloc, nil
}

type ApplyRequest struct {
	CustomerID          string          `json:"customer_id"`
	SettlementAccountID *id.AccountID   `json:"settlement_account_id,omitempty"`
	Currency            string          `json:"currency"`
	Principal           decimal.Decimal `json:"principal"`
	AnnualRate          decimal.Decimal `json:"annual_rate"`
	TermMonths          int             `json:"term_months"`
	Method              Method          `json:"method"`
	Collateral          decimal.Decimal `json:"collateral"`
	ApplicationDate     id.Date         `json:"application_date"`
}

func (r *ApplyRequest) Normalize() {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.Method = Method(strings.ToLower(strings.TrimSpace(string(r.Method))))
	if r.Method == "" {
		r.Method = MethodAnnuity
	}
}

func (r *ApplyRequest) Validate() error {
	if r.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "customer_id is required")
	}
	if len(r.CustomerID) > 64 {
		return dErrors.New(dErrors.CodeValidation, "customer_id is too long")
	}
	if _, err := money.ParseCurrency(r.Currency); err != nil {
		return err
	}
	if err := money.Positive("principal", r.Principal); err != nil {
		return err
	}
	if r.AnnualRate.IsNegative() || r.AnnualRate.GreaterThan(decimal.NewFromInt(MaxRate)) {
		return dErrors.New(dErrors.CodeValidation, "annual_rate must be between 0 and 100")
	}
	if r.TermMonths < 1 || r.TermMonths > MaxTermMonths {
		return dErrors.New(dErrors.CodeValidation, "term_months must be between 1 and 600")
	}
	if !r.Method.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "method must be annuity or flat")
	}
	if r.Collateral.IsNegative() || !money.HasValidScale(r.Collateral) {
		return dErrors.New(dErrors.CodeValidation, "collateral must be a non-negative amount with at most 2 decimal places")
	}
	if r.SettlementAccountID != nil && r.SettlementAccountID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "settlement_account_id cannot be nil")
	}
	return nil
}

// Position summarises a loan's standing on AsOf.
type Position struct {
	LoanID      id.LoanID       `json:"loan_id"`
	Status      Status          `json:"status"`
	AsOf        id.Date         `json:"as_of"`
	DaysPastDue int             `json:"days_past_due"`
	Arrears     decimal.Decimal `json:"arrears"`
	Payoff      Payoff          `json:"payoff"`
}

// ClassificationUpdate carries the result of a provisioning run for one loan.
type ClassificationUpdate struct {
	LoanID        id.LoanID
	Class         class.Class
	Stage         class.Stage
	ProvisionHeld decimal.Decimal
}
