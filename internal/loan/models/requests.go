package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
	dErrors "corebank/pkg/domain-errors"
	"corebank/pkg/money"
)

// Channel is where a repayment's cash comes from.
type Channel string

const (
	ChannelCash    Channel = "cash"
	ChannelAccount Channel = "account"
)

// MaxRepaymentReferenceLength keeps LN-REP-<loan id>-<reference> within the
// journal reference limit.
const MaxRepaymentReferenceLength = 20

type RepayRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ValueDate id.Date         `json:"value_date"`
	Channel   Channel         `json:"channel"`
	Reference string          `json:"reference"`
}

func (r *RepayRequest) Normalize() {
	r.Reference = strings.TrimSpace(r.Reference)
	r.Channel = Channel(strings.ToLower(strings.TrimSpace(string(r.Channel))))
	if r.Channel == "" {
		r.Channel = ChannelCash
	}
}

func (r *RepayRequest) Validate() error {
	if err := money.Positive("amount", r.Amount); err != nil {
		return err
	}
	if r.Channel != ChannelCash && r.Channel != ChannelAccount {
		return dErrors.New(dErrors.CodeValidation, "channel must be cash or account")
	}
	if r.Reference == "" {
		return dErrors.New(dErrors.CodeValidation, "reference is required")
	}
	if len(r.Reference) > MaxRepaymentReferenceLength {
		return dErrors.New(dErrors.CodeValidation, "reference must be at most 20 characters")
	}
	return nil
}

// Repayment records one applied repayment. Reference is unique per loan.
type Repayment struct {
	ID            uuid.UUID       `json:"id"`
	TenantID      id.TenantID     `json:"tenant_id"`
	LoanID        id.LoanID       `json:"loan_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	InterestPaid  decimal.Decimal `json:"interest_paid"`
	PrincipalPaid decimal.Decimal `json:"principal_paid"`
	Channel       Channel         `json:"channel"`
	ValueDate     id.Date         `json:"value_date"`
	JournalID     id.JournalID    `json:"journal_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RepaymentResult is returned by Repay. Replayed is set when the reference
// had already been applied and nothing new was posted.
type RepaymentResult struct {
	Repayment *Repayment `json:"repayment"`
	Loan      *Loan      `json:"loan"`
	Replayed  bool       `json:"replayed"`
}

// DisbursePayload is the approval payload for loan.disburse.
type DisbursePayload struct {
	ValueDate id.Date `json:"value_date"`
}

// WriteOffPayload is the approval payload for loan.write_off.
type WriteOffPayload struct {
	ValueDate id.Date `json:"value_date"`
	Reason    string  `json:"reason"`
}

// ListFilter narrows loan listings. Zero fields match everything.
type ListFilter struct {
	Status     Status
	CustomerID string
}
