package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

// NumberLength is the length of a customer-facing account number.
const NumberLength = 10

// Account is a customer deposit account. Its balance mirrors the customer's
// share of GL 2000 and only changes together with a posted journal.
//
// Invariants:
//   - Number is NumberLength digits, unique per tenant
//   - Balance never goes negative
//   - Closed is terminal and requires a zero balance
//   - Frozen accounts accept credits but reject debits
type Account struct {
	ID         id.AccountID    `json:"id"`
	TenantID   id.TenantID     `json:"tenant_id"`
	CustomerID string          `json:"customer_id"`
	Number     string          `json:"number"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (a *Account) CanCredit() error {
	if a.Status == StatusClosed {
		return dErrors.New(dErrors.CodeInvariantViolation, "account is closed")
	}
	return nil
}

func (a *Account) CanDebit(amount decimal.Decimal) error {
	switch a.Status {
	case StatusClosed:
		return dErrors.New(dErrors.CodeInvariantViolation, "account is closed")
	case StatusFrozen:
		return dErrors.New(dErrors.CodeInvariantViolation, "account is frozen")
	}
	if a.Balance.LessThan(amount) {
		return dErrors.New(dErrors.CodeInsufficientFunds, "insufficient funds")
	}
	return nil
}

func (a *Account) ApplyCredit(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
}

func (a *Account) ApplyDebit(amount decimal.Decimal, now time.Time) {
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
}

func (a *Account) Freeze(now time.Time) error {
	if a.Status != StatusActive {
		return dErrors.New(dErrors.CodeConflict, "only active accounts can be frozen")
	}
	a.Status = StatusFrozen
	a.UpdatedAt = now
	return nil
}

func (a *Account) Unfreeze(now time.Time) error {
	if a.Status != StatusFrozen {
		return dErrors.New(dErrors.CodeConflict, "account is not frozen")
	}
	a.Status = StatusActive
	a.UpdatedAt = now
	return nil
}

func (a *Account) Close(now time.Time) error {
	if a.Status == StatusClosed {
		return dErrors.New(dErrors.CodeConflict, "account is already closed")
	}
	if !a.Balance.IsZero() {
		return dErrors.New(dErrors.CodeInvariantViolation, "balance must be zero to close the account")
	}
	a.Status = StatusClosed
	a.UpdatedAt = now
	return nil
}

type OpenRequest struct {
	CustomerID string `json:"customer_id"`
	Currency   string `json:"currency"`
}

func (r *OpenRequest) Normalize() {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

func (r *OpenRequest) Validate() error {
	if r.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "customer_id is required")
	}
	if len(r.CustomerID) > 64 {
		return dErrors.New(dErrors.CodeValidation, "customer_id is too long")
	}
	if _, err := money.ParseCurrency(r.Currency); err != nil {
		return err
	}
	return nil
}

// MovementRequest is a cash deposit, withdrawal or fee against an account.
type MovementRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Narration string          `json:"narration,omitempty"`
}

func (r *MovementRequest) Normalize() {
	r.Reference = strings.TrimSpace(r.Reference)
	r.Narration = strings.TrimSpace(r.Narration)
}

func (r *MovementRequest) Validate() error {
	if err := money.Positive("amount", r.Amount); err != nil {
		return err
	}
	if r.Reference == "" {
		return dErrors.New(dErrors.CodeValidation, "reference is required")
	}
	if len(r.Reference) > 48 {
		return dErrors.New(dErrors.CodeValidation, "reference is too long")
	}
	return nil
}

// Movement is the outcome of a posted deposit, withdrawal or fee.
type Movement struct {
	Account   *Account        `json:"account"`
	JournalID id.JournalID    `json:"journal_id"`
	Amount    decimal.Decimal `json:"amount"`
}
