package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
)

// LoanProvision is the provisioning outcome for one active loan.
type LoanProvision struct {
	LoanID      id.LoanID       `json:"loan_id"`
	CustomerID  string          `json:"customer_id"`
	DaysPastDue int             `json:"days_past_due"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Collateral  decimal.Decimal `json:"collateral"`
	Class       Class           `json:"class"`
	Stage       Stage           `json:"stage"`
	Rate        decimal.Decimal `json:"rate"`
	Required    decimal.Decimal `json:"required"`
	Held        decimal.Decimal `json:"held"`
	Delta       decimal.Decimal `json:"delta"`
}

// ClassSummary aggregates the loans that fall in one class.
type ClassSummary struct {
	Class       Class           `json:"class"`
	Stage       Stage           `json:"stage"`
	Rate        decimal.Decimal `json:"rate"`
	Count       int             `json:"count"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Required    decimal.Decimal `json:"required"`
	Held        decimal.Decimal `json:"held"`
	Delta       decimal.Decimal `json:"delta"`
}

// Summary is the book-level result of classifying every active loan.
// Released is provision still held on loans that left the book (closed by
// repayment). A positive NetDelta means provision must be increased.
type Summary struct {
	LoanCount        int             `json:"loan_count"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalRequired    decimal.Decimal `json:"total_required"`
	TotalHeld        decimal.Decimal `json:"total_held"`
	Released         decimal.Decimal `json:"released"`
	NetDelta         decimal.Decimal `json:"net_delta"`
	Classes          []ClassSummary  `json:"classes"`
}

type Preview struct {
	AsOf    id.Date         `json:"as_of"`
	Summary Summary         `json:"summary"`
	Loans   []LoanProvision `json:"loans"`
	// Released lists inactive loans whose provision the run gives back.
	Released []LoanProvision `json:"released,omitempty"`
}

// Run is a posted provisioning run. JournalID is nil when the net delta was zero.
type Run struct {
	ID        id.ProvisionRunID `json:"id"`
	TenantID  id.TenantID       `json:"tenant_id"`
	AsOf      id.Date           `json:"as_of"`
	Summary   Summary           `json:"summary"`
	JournalID *id.JournalID     `json:"journal_id,omitempty"`
	PostedBy  id.UserID         `json:"posted_by"`
	CreatedAt time.Time         `json:"created_at"`
}

// ReportLine is one class row of the regulatory report. Share is the class's
// fraction of the outstanding book to four decimal places.
type ReportLine struct {
	Class       Class           `json:"class"`
	Stage       Stage           `json:"stage"`
	Count       int             `json:"count"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Provision   decimal.Decimal `json:"provision"`
	Share       decimal.Decimal `json:"share"`
}

// Report is the loan-quality summary filed with the regulator.
type Report struct {
	AsOf             id.Date         `json:"as_of"`
	Currency         string          `json:"currency"`
	Lines            []ReportLine    `json:"lines"`
	TotalCount       int             `json:"total_count"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	TotalProvision   decimal.Decimal `json:"total_provision"`
	// NonPerformingRatio is the share of the book in stage 3.
	NonPerformingRatio decimal.Decimal `json:"non_performing_ratio"`
	// Coverage is the provision required over the outstanding book.
	Coverage decimal.Decimal `json:"coverage"`
}

// PostPayload is the approval payload for provision.post. The approval
// entity is the as-of date.
type PostPayload struct {
	Note string `json:"note,omitempty"`
}
