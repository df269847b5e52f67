package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "corebank/pkg/domain"
)

// Posting is a journal line joined with its journal header, as read for statements.
type Posting struct {
	JournalID id.JournalID    `json:"journal_id"`
	Reference string          `json:"reference"`
	Source    Source          `json:"source"`
	Narration string          `json:"narration,omitempty"`
	ValueDate time.Time       `json:"value_date"`
	PostedAt  time.Time       `json:"posted_at"`
	LineNo    int             `json:"line_no"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

type Balance struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	NormalBalance Side            `json:"normal_balance"`
	Currency      string          `json:"currency"`
	AsOf          time.Time       `json:"as_of"`
	Debits        decimal.Decimal `json:"debits"`
	Credits       decimal.Decimal `json:"credits"`
	Balance       decimal.Decimal `json:"balance"`
}

type TrialBalanceRow struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Type   AccountType     `json:"type"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
}

// TrialBalance lists gross debit and credit totals per account.
// TotalDebit equals TotalCredit for any consistent ledger.
type TrialBalance struct {
	AsOf        time.Time         `json:"as_of"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  decimal.Decimal   `json:"total_debit"`
	TotalCredit decimal.Decimal   `json:"total_credit"`
	Balanced    bool              `json:"balanced"`
}

type StatementLine struct {
	Posting
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type Statement struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Lines          []StatementLine `json:"lines"`
}
